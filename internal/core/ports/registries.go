package ports

import "gridsync/internal/core/domain"

// ClientSocket is one live client transport. Send may fail (client already
// gone); callers decide whether that matters.
type ClientSocket interface {
	Send(data []byte) error
	Close() error
}

// ConnectionRegistry maps connection ids to live sockets. Owned by the
// gateway; the propagator only reads it.
type ConnectionRegistry interface {
	GetConnection(connID domain.ConnectionID) (ClientSocket, bool)
	ConnectionIDs() []domain.ConnectionID
}

// SubscriptionRegistry tracks each connection's standing interest in
// tenant-scoped channels.
type SubscriptionRegistry interface {
	Subscribe(connID domain.ConnectionID, tenantID domain.TenantID, channel string)
	Unsubscribe(connID domain.ConnectionID, tenantID domain.TenantID, channel string)

	// RemoveSubscriptionsForTenant tears down every subscription the
	// connection holds in the tenant and returns how many were removed.
	RemoveSubscriptionsForTenant(connID domain.ConnectionID, tenantID domain.TenantID) int

	// RemoveConnection drops all state for a connection. No-op for unknown ids.
	RemoveConnection(connID domain.ConnectionID)

	SubscriptionsForConnection(connID domain.ConnectionID) map[domain.TenantID][]string
}
