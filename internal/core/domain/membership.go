package domain

import (
	"strings"
	"time"
)

type TenantID string

type UserID string

type ConnectionID string

// Role is a tenant-scoped authorization level. Roles form a total order:
// owner > admin > member > viewer. An unrecognized role is RoleUnknown and
// is never sufficient for anything.
type Role string

const (
	RoleUnknown Role = ""
	RoleViewer  Role = "viewer"
	RoleMember  Role = "member"
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
)

// ParseRole maps a role string to a Role, case-insensitively. Unrecognized
// input maps to RoleUnknown rather than an error so authorization checks
// stay total and fail closed.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer
	case "member":
		return RoleMember
	case "admin":
		return RoleAdmin
	case "owner":
		return RoleOwner
	default:
		return RoleUnknown
	}
}

// Level returns the ordinal position of the role in the hierarchy.
// RoleUnknown is 0, below every real role.
func (r Role) Level() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleMember:
		return 2
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 4
	default:
		return 0
	}
}

func (r Role) IsValid() bool {
	return r.Level() > 0
}

func (r Role) String() string {
	return string(r)
}

// HasSufficientRole reports whether actual grants at least the privileges of
// required. Both sides are parsed case-insensitively; anything unrecognized
// is insufficient.
func HasSufficientRole(actual, required Role) bool {
	actualLevel := ParseRole(string(actual)).Level()
	requiredLevel := ParseRole(string(required)).Level()
	return actualLevel >= requiredLevel
}

// Membership is a user's standing in one tenant. The persistence layer
// enforces at most one membership per (tenant, user) pair.
type Membership struct {
	ID        string    `json:"id"`
	TenantID  TenantID  `json:"tenant_id"`
	UserID    UserID    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectionPermissions is the authorization snapshot held for one live
// connection. It is created whole by a permission load and replaced whole by
// a refresh; the membership map is never partially mutated.
type ConnectionPermissions struct {
	UserID      UserID
	Memberships map[TenantID]*Membership
	LoadedAt    time.Time
}

// MembershipFor returns the user's membership in the given tenant, or nil.
func (p *ConnectionPermissions) MembershipFor(tenantID TenantID) *Membership {
	if p == nil {
		return nil
	}
	return p.Memberships[tenantID]
}
