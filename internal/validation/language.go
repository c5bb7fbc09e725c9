package validation

import (
	"golang.org/x/text/language"
)

// SupportedLanguages are the interface languages, Arabic first.
var SupportedLanguages = []language.Tag{language.Arabic, language.French, language.English}

var languageMatcher = language.NewMatcher(SupportedLanguages)

// NormalizeLanguage maps a BCP 47 code such as "fr-TN" onto one of the
// supported base languages. ok is false when no supported language is a
// close enough match.
func NormalizeLanguage(code string) (string, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	_, idx, conf := languageMatcher.Match(tag)
	if conf < language.High {
		return "", false
	}
	base, _ := SupportedLanguages[idx].Base()
	return base.String(), true
}

// Language reports whether code resolves to a supported language.
func Language(code string) bool {
	_, ok := NormalizeLanguage(code)
	return ok
}
