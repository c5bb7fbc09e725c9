// Package guard decides whether a role-specific view may be shown for the
// current session.
package guard

import (
	"net/url"

	"github.com/carthagofood/carthago/internal/client/session"
	"github.com/carthagofood/carthago/internal/models"
)

// Decision is the outcome of a view check. Redirect is set iff the view is
// not allowed.
type Decision struct {
	Allowed  bool
	Redirect string
}

// Check allows the view for role only to an authenticated session of that
// role. Everyone else is sent to the login view preselected for role.
func Check(s session.Snapshot, role models.Role) Decision {
	if s.IsAuthenticated() && s.Identity != nil && s.Identity.Role == role {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: LoginPath(role)}
}

// LoginPath returns the login view for role.
func LoginPath(role models.Role) string {
	if !role.Valid() {
		return "/auth/login"
	}
	return "/auth/login?" + url.Values{"role": {string(role)}}.Encode()
}

// Home returns the dashboard of role.
func Home(role models.Role) string {
	return "/" + string(role) + "/dashboard"
}

// Landing returns where the root view sends s: the role dashboard for an
// authenticated session, "" to stay on role selection otherwise.
func Landing(s session.Snapshot) string {
	if !s.IsAuthenticated() || s.Identity == nil || !s.Identity.Role.Valid() {
		return ""
	}
	return Home(s.Identity.Role)
}
