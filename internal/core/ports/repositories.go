package ports

import (
	"context"

	"gridsync/internal/core/domain"
)

// MembershipListRepository populates a connection's permission snapshot.
type MembershipListRepository interface {
	FindByUserID(ctx context.Context, userID domain.UserID) ([]*domain.Membership, error)
}

// MembershipRepository is the full membership persistence surface. The
// authorization core only consumes the two finders; the admin API uses the
// rest.
type MembershipRepository interface {
	MembershipListRepository

	// FindByUserAndTenant returns domain.ErrMembershipNotFound when the user
	// has no membership in the tenant.
	FindByUserAndTenant(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) (*domain.Membership, error)

	Upsert(ctx context.Context, membership *domain.Membership) error
	Delete(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) error
	ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*domain.Membership, error)
}

// RecordRepository retains the recent records each channel carried so
// clients can fetch a backlog on demand. Retention is bounded per channel;
// older records age out silently.
type RecordRepository interface {
	Append(ctx context.Context, record *domain.Record) error

	// ListByChannel returns up to limit of the channel's most recent
	// records, oldest first.
	ListByChannel(ctx context.Context, tenantID domain.TenantID, channel string, limit int) ([]domain.Record, error)
}
