// Package validation holds the pure predicates, sanitizers and formatters
// used on user input before anything is sent over the network.
//
// None of the functions keep state or have side effects. Forms and the
// session store combine them through [Validator], which collects per-field
// failures into a single apperr validation error.
package validation

import (
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CountryCode is the Tunisian international dialing prefix.
const CountryCode = "+216"

var (
	phoneRegex = regexp.MustCompile(`^\+216[0-9]{8}$`)
	// Deliberately permissive: something@something.something, no whitespace.
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	timeRegex  = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)
	otpRegex   = regexp.MustCompile(`^[0-9]{6}$`)
)

var imageExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true}

// Phone reports whether phone is +216 followed by exactly 8 digits.
func Phone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// Email reports whether email has the local@domain.tld shape.
func Email(email string) bool {
	return emailRegex.MatchString(email)
}

// Password reports whether password is at least 8 characters long and
// contains a lowercase letter, an uppercase letter and a digit.
func Password(password string) bool {
	if utf8.RuneCountInString(password) < 8 {
		return false
	}
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return lower && upper && digit
}

// Name reports whether the trimmed name is 2 to 50 characters of Latin or
// Arabic letters and spaces.
func Name(name string) bool {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 50 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= 0x0600 && r <= 0x06FF:
		case unicode.IsSpace(r):
		default:
			return false
		}
	}
	return true
}

// Price reports whether price is positive, finite and has at most two
// decimal places.
func Price(price float64) bool {
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return false
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(price, 'f', 2, 64), 64)
	return err == nil && rounded == price
}

// Coordinates reports whether lat and lng are finite and within range.
func Coordinates(lat, lng float64) bool {
	if math.IsInf(lat, 0) || math.IsInf(lng, 0) || math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Time reports whether t is a 24-hour HH:mm time.
func Time(t string) bool {
	return timeRegex.MatchString(t)
}

// OTP reports whether code is exactly 6 digits.
func OTP(code string) bool {
	return otpRegex.MatchString(code)
}

// ImageURL reports whether raw is an absolute URL pointing at a jpg, jpeg,
// png or webp file.
func ImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	return imageExtensions[ext]
}
