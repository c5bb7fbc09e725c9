package validation

import (
	"fmt"
	"math"
	"strings"
)

// Currency is the code appended by FormatPrice.
const Currency = "TND"

// FormatPhone renders a +216 number as "+216 12 345 678". Other numbers are
// returned unchanged.
func FormatPhone(phone string) string {
	if !strings.HasPrefix(phone, CountryCode) {
		return phone
	}
	number := phone[len(CountryCode):]
	return fmt.Sprintf("%s %s %s %s", CountryCode, clip(number, 0, 2), clip(number, 2, 5), clip(number, 5, len(number)))
}

func clip(s string, from, to int) string {
	if from > len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// FormatPrice renders amount with two decimals and the currency code.
func FormatPrice(amount float64) string {
	return fmt.Sprintf("%.2f %s", amount, Currency)
}

// FormatDistance renders meters as "850m" below a kilometer, "1.2km" above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

// FormatDuration renders seconds as "45s", "12min" or "1h 5min".
func FormatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", int(math.Round(seconds)))
	}
	minutes := int(seconds / 60)
	if minutes < 60 {
		return fmt.Sprintf("%dmin", minutes)
	}
	return fmt.Sprintf("%dh %dmin", minutes/60, minutes%60)
}

// Truncate cuts text to maxLen characters and appends "..." when it was
// longer.
func Truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
