package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carthagofood/carthago/internal/client/session"
	"github.com/carthagofood/carthago/internal/models"
)

func authenticated(role models.Role) session.Snapshot {
	return session.Snapshot{
		State:    session.Authenticated,
		Identity: &models.Identity{ID: "u1", Name: "Salma", Role: role},
		Token:    "tok",
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		snapshot session.Snapshot
		role     models.Role
		want     Decision
	}{
		{
			name:     "matching role",
			snapshot: authenticated(models.RoleRider),
			role:     models.RoleRider,
			want:     Decision{Allowed: true},
		},
		{
			name:     "logged out",
			snapshot: session.Snapshot{},
			role:     models.RoleCustomer,
			want:     Decision{Redirect: "/auth/login?role=customer"},
		},
		{
			name:     "mismatched role",
			snapshot: authenticated(models.RoleCustomer),
			role:     models.RoleAdmin,
			want:     Decision{Redirect: "/auth/login?role=admin"},
		},
		{
			name: "pending approval",
			snapshot: session.Snapshot{
				State:    session.PendingApproval,
				Identity: &models.Identity{ID: "r1", Role: models.RoleRestaurant},
			},
			role: models.RoleRestaurant,
			want: Decision{Redirect: "/auth/login?role=restaurant"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Check(tt.snapshot, tt.role))
		})
	}
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/restaurant/dashboard", Home(models.RoleRestaurant))
	assert.Equal(t, "/auth/login", LoginPath(models.Role("chef")))

	assert.Equal(t, "/admin/dashboard", Landing(authenticated(models.RoleAdmin)))
	assert.Equal(t, "", Landing(session.Snapshot{}))
}
