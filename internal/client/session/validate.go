package session

import (
	"strings"

	"github.com/carthagofood/carthago/internal/models"
	"github.com/carthagofood/carthago/internal/validation"
)

// Input checks run before any request leaves the process. Phone numbers are
// sanitized first so users may type them in any common form.

func roleValidator(v *validation.Validator, role models.Role) *validation.Validator {
	return v.Custom("role", !role.Valid(), "Unknown role")
}

func validatePhone(phone string) (string, error) {
	phone = validation.SanitizePhone(phone)
	if err := validation.New().Phone("phone", phone).Err(); err != nil {
		return "", err
	}
	return phone, nil
}

func validateLogin(creds models.LoginCredentials, role models.Role) (models.LoginCredentials, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Phone != "" {
		creds.Phone = validation.SanitizePhone(creds.Phone)
	}

	v := roleValidator(validation.New(), role)
	switch {
	case creds.Email == "" && creds.Phone == "":
		v.Custom("email", true, "Email or phone is required")
	case creds.Email != "":
		v.Email("email", creds.Email)
	default:
		v.Phone("phone", creds.Phone)
	}
	v.Required("password", creds.Password)
	return creds, v.Err()
}

func validateRegister(p models.RegisterProfile, role models.Role) (models.RegisterProfile, error) {
	p.Name = validation.SanitizeText(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = validation.SanitizePhone(p.Phone)

	v := roleValidator(validation.New(), role).
		Name("name", p.Name).
		Email("email", p.Email).
		Phone("phone", p.Phone).
		Password("password", p.Password)
	if p.PreferredLanguage != "" {
		if code, ok := validation.NormalizeLanguage(p.PreferredLanguage); ok {
			p.PreferredLanguage = code
		} else {
			v.Language("preferred_language", p.PreferredLanguage)
		}
	}
	return p, v.Err()
}

func validateVerifyOTP(phone, code string, role models.Role) (string, error) {
	phone = validation.SanitizePhone(phone)
	err := roleValidator(validation.New(), role).
		Phone("phone", phone).
		OTP("otp", code).
		Err()
	return phone, err
}

func validateProfileUpdate(u models.ProfileUpdate) (models.ProfileUpdate, error) {
	v := validation.New()
	if u.Name != nil {
		name := validation.SanitizeText(*u.Name)
		u.Name = &name
		v.Name("name", name)
	}
	if u.Email != nil {
		email := strings.TrimSpace(*u.Email)
		u.Email = &email
		v.Email("email", email)
	}
	if u.Phone != nil {
		phone := validation.SanitizePhone(*u.Phone)
		u.Phone = &phone
		v.Phone("phone", phone)
	}
	if u.PreferredLanguage != nil {
		if code, ok := validation.NormalizeLanguage(*u.PreferredLanguage); ok {
			u.PreferredLanguage = &code
		} else {
			v.Language("preferred_language", *u.PreferredLanguage)
		}
	}
	if u.Avatar != nil && *u.Avatar != "" {
		v.Custom("avatar", !validation.ImageURL(*u.Avatar), "Must be an image URL")
	}
	return u, v.Err()
}
