package domain

// TenantScoped is the minimal contract the record filter needs. Any record
// carrying an id, an owning tenant and an owning user can flow through the
// filter; callers keep their concrete types.
type TenantScoped interface {
	RecordID() string
	RecordTenantID() TenantID
	RecordOwnerID() UserID
}

// Record is the gateway's concrete tenant-scoped record payload.
type Record struct {
	ID       string                 `json:"id"`
	TenantID TenantID               `json:"tenant_id"`
	OwnerID  UserID                 `json:"owner_id"`
	Channel  string                 `json:"channel,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

func (r Record) RecordID() string         { return r.ID }
func (r Record) RecordTenantID() TenantID { return r.TenantID }
func (r Record) RecordOwnerID() UserID    { return r.OwnerID }
