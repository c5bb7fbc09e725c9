package validation

import (
	"fmt"
	"strings"

	"github.com/carthagofood/carthago/internal/apperr"
)

// Validator collects field-level validation errors via a chainable API.
//
// It is not safe for concurrent use; create one per form or operation.
type Validator struct {
	errs []apperr.FieldError
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{}
}

// Required fails if the trimmed value is empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(field, "This field is required")
	}
	return v
}

// Phone fails unless value is a +216 number with 8 digits.
func (v *Validator) Phone(field, value string) *Validator {
	if !Phone(value) {
		v.add(field, "Must be +216 followed by 8 digits")
	}
	return v
}

// Email fails unless value looks like an email address.
func (v *Validator) Email(field, value string) *Validator {
	if !Email(value) {
		v.add(field, "Must be a valid email address")
	}
	return v
}

// Password fails unless value satisfies the password policy.
func (v *Validator) Password(field, value string) *Validator {
	if !Password(value) {
		v.add(field, "Minimum 8 characters with an uppercase letter, a lowercase letter and a digit")
	}
	return v
}

// Name fails unless value is a 2-50 character name of letters and spaces.
func (v *Validator) Name(field, value string) *Validator {
	if !Name(value) {
		v.add(field, "Must be 2-50 letters and spaces")
	}
	return v
}

// OTP fails unless value is a 6-digit code.
func (v *Validator) OTP(field, value string) *Validator {
	if !OTP(value) {
		v.add(field, "Must be exactly 6 digits")
	}
	return v
}

// Language fails unless value resolves to a supported language.
func (v *Validator) Language(field, value string) *Validator {
	if !Language(value) {
		v.add(field, "Must be one of: ar, fr, en")
	}
	return v
}

// OneOf fails if value is not in the allowed set.
func (v *Validator) OneOf(field, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.add(field, fmt.Sprintf("Must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// Custom records message for field when failed is true.
func (v *Validator) Custom(field string, failed bool, message string) *Validator {
	if failed {
		v.add(field, message)
	}
	return v
}

// HasErrors reports whether any rule has failed so far.
func (v *Validator) HasErrors() bool {
	return len(v.errs) > 0
}

// Err returns an apperr validation error if any rule failed, or nil.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return apperr.Validation("Validation failed", v.errs...)
}

func (v *Validator) add(field, message string) {
	v.errs = append(v.errs, apperr.FieldError{Field: field, Message: message})
}
