package memory

import (
	"sync"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// MemorySubscriptionRegistry tracks which tenant-scoped channels each
// connection is subscribed to. Single-node registry; each gateway instance
// owns the subscriptions of its own connections.
type MemorySubscriptionRegistry struct {
	// connection id -> tenant id -> channel set
	subs map[domain.ConnectionID]map[domain.TenantID]map[string]struct{}
	mu   sync.RWMutex
}

func NewMemorySubscriptionRegistry() ports.SubscriptionRegistry {
	return &MemorySubscriptionRegistry{
		subs: make(map[domain.ConnectionID]map[domain.TenantID]map[string]struct{}),
	}
}

func (r *MemorySubscriptionRegistry) Subscribe(connID domain.ConnectionID, tenantID domain.TenantID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenants, ok := r.subs[connID]
	if !ok {
		tenants = make(map[domain.TenantID]map[string]struct{})
		r.subs[connID] = tenants
	}
	channels, ok := tenants[tenantID]
	if !ok {
		channels = make(map[string]struct{})
		tenants[tenantID] = channels
	}
	channels[channel] = struct{}{}
}

func (r *MemorySubscriptionRegistry) Unsubscribe(connID domain.ConnectionID, tenantID domain.TenantID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, ok := r.subs[connID][tenantID]
	if !ok {
		return
	}
	delete(channels, channel)
	if len(channels) == 0 {
		delete(r.subs[connID], tenantID)
	}
}

func (r *MemorySubscriptionRegistry) RemoveSubscriptionsForTenant(connID domain.ConnectionID, tenantID domain.TenantID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, ok := r.subs[connID][tenantID]
	if !ok {
		return 0
	}
	removed := len(channels)
	delete(r.subs[connID], tenantID)
	return removed
}

func (r *MemorySubscriptionRegistry) RemoveConnection(connID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, connID)
}

func (r *MemorySubscriptionRegistry) SubscriptionsForConnection(connID domain.ConnectionID) map[domain.TenantID][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants, ok := r.subs[connID]
	if !ok {
		return nil
	}

	out := make(map[domain.TenantID][]string, len(tenants))
	for tenantID, channels := range tenants {
		list := make([]string, 0, len(channels))
		for channel := range channels {
			list = append(list, channel)
		}
		out[tenantID] = list
	}
	return out
}
