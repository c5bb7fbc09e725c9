package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/carthagofood/carthago/internal/models"
)

// prompter reads answers to interactive questions, one line each.
type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{scanner: bufio.NewScanner(in), out: out}
}

// ask prints label and returns the trimmed answer. ok is false at end of
// input.
func (p *prompter) ask(label string) (string, bool) {
	fmt.Fprint(p.out, label)
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// registerProfile asks for the fields of a new account.
func (p *prompter) registerProfile() (models.RegisterProfile, bool) {
	var (
		profile models.RegisterProfile
		ok      bool
	)
	fields := []struct {
		label string
		dst   *string
	}{
		{"Name: ", &profile.Name},
		{"Email: ", &profile.Email},
		{"Phone: ", &profile.Phone},
		{"Password: ", &profile.Password},
		{"Preferred language (ar/fr/en, blank for default): ", &profile.PreferredLanguage},
	}
	for _, f := range fields {
		if *f.dst, ok = p.ask(f.label); !ok {
			return models.RegisterProfile{}, false
		}
	}
	return profile, true
}

// profileUpdate asks for profile changes. Blank answers keep the current
// value.
func (p *prompter) profileUpdate(current *models.Identity) (models.ProfileUpdate, bool) {
	var update models.ProfileUpdate
	fields := []struct {
		label string
		cur   string
		dst   **string
	}{
		{"Name", current.Name, &update.Name},
		{"Email", current.Email, &update.Email},
		{"Phone", current.Phone, &update.Phone},
		{"Preferred language", current.PreferredLanguage, &update.PreferredLanguage},
		{"Avatar URL", current.Avatar, &update.Avatar},
	}
	for _, f := range fields {
		answer, ok := p.ask(fmt.Sprintf("%s [%s]: ", f.label, f.cur))
		if !ok {
			return models.ProfileUpdate{}, false
		}
		if answer != "" && answer != f.cur {
			*f.dst = &answer
		}
	}
	return update, true
}
