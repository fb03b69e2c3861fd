package memory

import (
	"context"
	"sync"
	"time"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

type MemoryMembershipRepository struct {
	// tenant id -> user id -> membership
	memberships map[domain.TenantID]map[domain.UserID]*domain.Membership
	mu          sync.RWMutex
}

func NewMemoryMembershipRepository() ports.MembershipRepository {
	return &MemoryMembershipRepository{
		memberships: make(map[domain.TenantID]map[domain.UserID]*domain.Membership),
	}
}

func (r *MemoryMembershipRepository) FindByUserID(ctx context.Context, userID domain.UserID) ([]*domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Membership
	for _, users := range r.memberships {
		if m, ok := users[userID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryMembershipRepository) FindByUserAndTenant(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) (*domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users, ok := r.memberships[tenantID]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	m, ok := users[userID]
	if !ok {
		return nil, domain.ErrMembershipNotFound
	}
	return m, nil
}

func (r *MemoryMembershipRepository) Upsert(ctx context.Context, membership *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.memberships[membership.TenantID]
	if !ok {
		users = make(map[domain.UserID]*domain.Membership)
		r.memberships[membership.TenantID] = users
	}

	now := time.Now()
	if existing, ok := users[membership.UserID]; ok {
		membership.ID = existing.ID
		membership.CreatedAt = existing.CreatedAt
	} else if membership.CreatedAt.IsZero() {
		membership.CreatedAt = now
	}
	membership.UpdatedAt = now

	users[membership.UserID] = membership
	return nil
}

func (r *MemoryMembershipRepository) Delete(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.memberships[tenantID]
	if !ok {
		return domain.ErrMembershipNotFound
	}
	if _, ok := users[userID]; !ok {
		return domain.ErrMembershipNotFound
	}
	delete(users, userID)
	return nil
}

func (r *MemoryMembershipRepository) ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Membership
	for _, m := range r.memberships[tenantID] {
		out = append(out, m)
	}
	return out, nil
}
