package validation

import (
	"regexp"
	"strings"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// SanitizePhone keeps only digits and a leading '+', then normalizes to the
// +216 form: a bare 216 prefix gets its '+', a bare 8-digit local number
// gets the full country code. Applying it twice changes nothing.
func SanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if strings.HasPrefix(cleaned, "216") {
		return "+" + cleaned
	}
	if len(cleaned) == 8 && !strings.HasPrefix(cleaned, "+") {
		return CountryCode + cleaned
	}
	return cleaned
}

// SanitizeText trims text and collapses internal whitespace runs to a
// single space.
func SanitizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SanitizeHTML removes anything that looks like a tag and trims the rest.
func SanitizeHTML(text string) string {
	return strings.TrimSpace(htmlTagRegex.ReplaceAllString(text, ""))
}
