package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// MockMembershipRepository for tests
type MockMembershipRepository struct {
	mock.Mock
}

func (m *MockMembershipRepository) FindByUserID(ctx context.Context, userID domain.UserID) ([]*domain.Membership, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Membership), args.Error(1)
}

func (m *MockMembershipRepository) FindByUserAndTenant(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) (*domain.Membership, error) {
	args := m.Called(ctx, userID, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Membership), args.Error(1)
}

func (m *MockMembershipRepository) Upsert(ctx context.Context, membership *domain.Membership) error {
	args := m.Called(ctx, membership)
	return args.Error(0)
}

func (m *MockMembershipRepository) Delete(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) error {
	args := m.Called(ctx, userID, tenantID)
	return args.Error(0)
}

func (m *MockMembershipRepository) ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*domain.Membership, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Membership), args.Error(1)
}

// fakeSocket records sent frames and can be told to fail.
type fakeSocket struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// fakeConnectionRegistry is a map-backed registry for propagation tests.
type fakeConnectionRegistry struct {
	sockets map[domain.ConnectionID]ports.ClientSocket
}

func newFakeConnectionRegistry() *fakeConnectionRegistry {
	return &fakeConnectionRegistry{sockets: make(map[domain.ConnectionID]ports.ClientSocket)}
}

func (r *fakeConnectionRegistry) GetConnection(connID domain.ConnectionID) (ports.ClientSocket, bool) {
	s, ok := r.sockets[connID]
	return s, ok
}

func (r *fakeConnectionRegistry) ConnectionIDs() []domain.ConnectionID {
	ids := make([]domain.ConnectionID, 0, len(r.sockets))
	for id := range r.sockets {
		ids = append(ids, id)
	}
	return ids
}

// fakeSubscriptionRegistry tracks subscriptions per connection per tenant and
// can invoke a callback during teardown so tests can observe ordering.
type fakeSubscriptionRegistry struct {
	subs     map[domain.ConnectionID]map[domain.TenantID][]string
	onRemove func(connID domain.ConnectionID, tenantID domain.TenantID)
}

func newFakeSubscriptionRegistry() *fakeSubscriptionRegistry {
	return &fakeSubscriptionRegistry{subs: make(map[domain.ConnectionID]map[domain.TenantID][]string)}
}

func (r *fakeSubscriptionRegistry) Subscribe(connID domain.ConnectionID, tenantID domain.TenantID, channel string) {
	if r.subs[connID] == nil {
		r.subs[connID] = make(map[domain.TenantID][]string)
	}
	r.subs[connID][tenantID] = append(r.subs[connID][tenantID], channel)
}

func (r *fakeSubscriptionRegistry) Unsubscribe(connID domain.ConnectionID, tenantID domain.TenantID, channel string) {
	channels := r.subs[connID][tenantID]
	for i, c := range channels {
		if c == channel {
			r.subs[connID][tenantID] = append(channels[:i], channels[i+1:]...)
			return
		}
	}
}

func (r *fakeSubscriptionRegistry) RemoveSubscriptionsForTenant(connID domain.ConnectionID, tenantID domain.TenantID) int {
	if r.onRemove != nil {
		r.onRemove(connID, tenantID)
	}
	count := len(r.subs[connID][tenantID])
	delete(r.subs[connID], tenantID)
	return count
}

func (r *fakeSubscriptionRegistry) RemoveConnection(connID domain.ConnectionID) {
	delete(r.subs, connID)
}

func (r *fakeSubscriptionRegistry) SubscriptionsForConnection(connID domain.ConnectionID) map[domain.TenantID][]string {
	return r.subs[connID]
}
