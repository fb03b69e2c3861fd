package domain

import (
	"encoding/json"
	"fmt"
)

const RevocationEventType = "permission_revoked"

// RevocationEvent is the client-facing notification pushed when a
// connection loses access to a tenant. Two variants exist: a full
// revocation and a role downgrade. Both serialize to the same wire shape,
// with "newRole" present only on downgrade.
type RevocationEvent interface {
	EventTenantID() TenantID
	MarshalJSON() ([]byte, error)
}

// AccessRevokedEvent notifies a client its membership in a tenant was
// removed entirely.
type AccessRevokedEvent struct {
	TenantID TenantID
	Reason   string
}

// NewAccessRevokedEvent builds the full-revocation event with the standard
// reason text.
func NewAccessRevokedEvent(tenantID TenantID) AccessRevokedEvent {
	return AccessRevokedEvent{
		TenantID: tenantID,
		Reason:   "your access to this workspace has been removed",
	}
}

func (e AccessRevokedEvent) EventTenantID() TenantID { return e.TenantID }

func (e AccessRevokedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string   `json:"type"`
		TenantID TenantID `json:"tenantId"`
		Reason   string   `json:"reason"`
	}{
		Type:     RevocationEventType,
		TenantID: e.TenantID,
		Reason:   e.Reason,
	})
}

// RoleDowngradedEvent notifies a client its role in a tenant was lowered.
// The client drops cached state for the tenant and re-subscribes if still
// interested; re-subscription re-runs authorization against the new role.
type RoleDowngradedEvent struct {
	TenantID TenantID
	Reason   string
	NewRole  Role
}

// NewRoleDowngradedEvent builds the downgrade event. The reason names both
// roles so the transition is observable in client logs.
func NewRoleDowngradedEvent(tenantID TenantID, oldRole, newRole Role) RoleDowngradedEvent {
	return RoleDowngradedEvent{
		TenantID: tenantID,
		Reason:   fmt.Sprintf("your role was changed from %s to %s", oldRole, newRole),
		NewRole:  newRole,
	}
}

func (e RoleDowngradedEvent) EventTenantID() TenantID { return e.TenantID }

func (e RoleDowngradedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string   `json:"type"`
		TenantID TenantID `json:"tenantId"`
		Reason   string   `json:"reason"`
		NewRole  Role     `json:"newRole"`
	}{
		Type:     RevocationEventType,
		TenantID: e.TenantID,
		Reason:   e.Reason,
		NewRole:  e.NewRole,
	})
}

// PropagationResult reports what a revocation pass touched. It exists for
// logging and auditing only; correctness does not depend on it.
type PropagationResult struct {
	AffectedConnections   int
	RemovedSubscriptions  int
	NotifiedConnectionIDs []ConnectionID
}
