package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"viewer", RoleViewer},
		{"member", RoleMember},
		{"admin", RoleAdmin},
		{"owner", RoleOwner},
		{"OWNER", RoleOwner},
		{"  Admin  ", RoleAdmin},
		{"", RoleUnknown},
		{"superuser", RoleUnknown},
		{"moderator", RoleUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRole(tt.input))
		})
	}
}

func TestRoleLevel_Ordering(t *testing.T) {
	assert.Greater(t, RoleOwner.Level(), RoleAdmin.Level())
	assert.Greater(t, RoleAdmin.Level(), RoleMember.Level())
	assert.Greater(t, RoleMember.Level(), RoleViewer.Level())
	assert.Greater(t, RoleViewer.Level(), RoleUnknown.Level())
	assert.Equal(t, 0, RoleUnknown.Level())
	assert.Equal(t, 0, Role("superuser").Level())
}

func TestHasSufficientRole(t *testing.T) {
	all := []Role{RoleViewer, RoleMember, RoleAdmin, RoleOwner}

	// Every role is sufficient for itself.
	for _, r := range all {
		assert.True(t, HasSufficientRole(r, r), "role %s should satisfy itself", r)
	}

	// Owner satisfies everything.
	for _, r := range all {
		assert.True(t, HasSufficientRole(RoleOwner, r), "owner should satisfy %s", r)
	}

	assert.False(t, HasSufficientRole(RoleViewer, RoleMember))
	assert.False(t, HasSufficientRole(RoleMember, RoleAdmin))
	assert.False(t, HasSufficientRole(RoleAdmin, RoleOwner))
	assert.True(t, HasSufficientRole(RoleAdmin, RoleViewer))

	// Unknown roles are never sufficient, even against themselves.
	assert.False(t, HasSufficientRole(Role("superuser"), RoleViewer))
	assert.False(t, HasSufficientRole(RoleUnknown, RoleUnknown))

	// Case-insensitive on both sides.
	assert.True(t, HasSufficientRole(Role("ADMIN"), Role("Viewer")))
}

func TestConnectionPermissions_MembershipFor(t *testing.T) {
	perms := &ConnectionPermissions{
		UserID: "user-1",
		Memberships: map[TenantID]*Membership{
			"tenant-a": {TenantID: "tenant-a", UserID: "user-1", Role: RoleAdmin},
		},
	}

	assert.NotNil(t, perms.MembershipFor("tenant-a"))
	assert.Nil(t, perms.MembershipFor("tenant-b"))

	var nilPerms *ConnectionPermissions
	assert.Nil(t, nilPerms.MembershipFor("tenant-a"))
}
