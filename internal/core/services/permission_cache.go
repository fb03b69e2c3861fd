package services

import (
	"context"
	"sync"
	"time"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// DefaultPermissionTTL bounds how long a connection may act on a stale
// membership snapshot before a reload is forced.
const DefaultPermissionTTL = 5 * time.Minute

// PermissionCache holds one membership snapshot per live connection.
//
// It owns two maps that must move in lockstep: connection id -> snapshot and
// connection id -> user id. A single mutex guards both because load, refresh
// and remove are read-then-write sequences that must be atomic per
// connection id.
type PermissionCache struct {
	repo ports.MembershipListRepository
	ttl  time.Duration

	mu          sync.RWMutex
	permissions map[domain.ConnectionID]*domain.ConnectionPermissions
	users       map[domain.ConnectionID]domain.UserID

	now func() time.Time
}

func NewPermissionCache(repo ports.MembershipListRepository, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	return &PermissionCache{
		repo:        repo,
		ttl:         ttl,
		permissions: make(map[domain.ConnectionID]*domain.ConnectionPermissions),
		users:       make(map[domain.ConnectionID]domain.UserID),
		now:         time.Now,
	}
}

// LoadPermissions fetches the user's memberships and installs a fresh
// snapshot for the connection, replacing any previous entry wholesale.
// Repository errors propagate to the caller untouched; the previous entry is
// left as-is on failure.
func (c *PermissionCache) LoadPermissions(ctx context.Context, connID domain.ConnectionID, userID domain.UserID) (*domain.ConnectionPermissions, error) {
	memberships, err := c.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	byTenant := make(map[domain.TenantID]*domain.Membership, len(memberships))
	for _, m := range memberships {
		// Last write wins on duplicate tenant ids; persistence should never
		// produce them.
		byTenant[m.TenantID] = m
	}

	perms := &domain.ConnectionPermissions{
		UserID:      userID,
		Memberships: byTenant,
		LoadedAt:    c.now(),
	}

	c.mu.Lock()
	c.permissions[connID] = perms
	c.users[connID] = userID
	c.mu.Unlock()

	return perms, nil
}

// GetConnectionPermissions returns the snapshot for a connection, or nil if
// the connection is unknown or the snapshot has outlived the TTL. Expired
// entries are reported absent but not evicted; they stay until reloaded,
// refreshed or removed.
func (c *PermissionCache) GetConnectionPermissions(connID domain.ConnectionID) *domain.ConnectionPermissions {
	c.mu.RLock()
	perms, exists := c.permissions[connID]
	c.mu.RUnlock()

	if !exists {
		return nil
	}
	if c.now().Sub(perms.LoadedAt) > c.ttl {
		return nil
	}
	return perms
}

// HasRole is the authorization gate for inbound tenant-scoped traffic.
// Unknown connection, expired snapshot, or no membership in the tenant all
// answer false.
func (c *PermissionCache) HasRole(connID domain.ConnectionID, tenantID domain.TenantID, required domain.Role) bool {
	perms := c.GetConnectionPermissions(connID)
	if perms == nil {
		return false
	}
	membership := perms.MembershipFor(tenantID)
	if membership == nil {
		return false
	}
	return domain.HasSufficientRole(membership.Role, required)
}

// RefreshPermissions reloads the snapshot using the user id recorded when the
// connection first loaded. Returns (nil, nil) for connections that were never
// loaded or were removed; a removed connection is never resurrected.
func (c *PermissionCache) RefreshPermissions(ctx context.Context, connID domain.ConnectionID) (*domain.ConnectionPermissions, error) {
	c.mu.RLock()
	userID, exists := c.users[connID]
	c.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	return c.LoadPermissions(ctx, connID, userID)
}

// RemoveConnection drops the snapshot and the user association. Idempotent.
func (c *PermissionCache) RemoveConnection(connID domain.ConnectionID) {
	c.mu.Lock()
	delete(c.permissions, connID)
	delete(c.users, connID)
	c.mu.Unlock()
}

// ActiveConnectionCount counts tracked entries, expired or not. Monitoring
// only.
func (c *PermissionCache) ActiveConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.permissions)
}

// ConnectionIDs snapshots the tracked connection ids. Used by the propagator
// for its per-revocation scan.
func (c *PermissionCache) ConnectionIDs() []domain.ConnectionID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]domain.ConnectionID, 0, len(c.permissions))
	for id := range c.permissions {
		ids = append(ids, id)
	}
	return ids
}

// UserIDFor returns the user id a connection loaded with, expiry
// notwithstanding.
func (c *PermissionCache) UserIDFor(connID domain.ConnectionID) (domain.UserID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID, exists := c.users[connID]
	return userID, exists
}
