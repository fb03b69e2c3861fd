package services

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// FilterResult is the outcome of filtering one record batch. Allowed keeps
// the input's relative order; denied records are only counted, never named.
type FilterResult[T domain.TenantScoped] struct {
	Allowed     []T
	DeniedCount int
}

// FilterRecordsForUser returns the subset of records the user may read in
// the given tenant. A record survives iff its own tenant id matches the
// requested tenant and a membership row exists for (user, tenant); any
// role grants read. Records from other tenants are denied even when the user
// is a member there, so an accidentally mixed batch cannot leak across
// tenants.
//
// Every record is evaluated concurrently against a fresh repository read;
// this path deliberately bypasses the connection cache because it builds
// server-initiated pushes, where a stale grant is worse than the extra I/O.
// An empty batch returns immediately without touching the repository.
func FilterRecordsForUser[T domain.TenantScoped](
	ctx context.Context,
	userID domain.UserID,
	tenantID domain.TenantID,
	records []T,
	repo ports.MembershipRepository,
) (FilterResult[T], error) {
	if len(records) == 0 {
		return FilterResult[T]{Allowed: []T{}}, nil
	}

	allowed := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			if record.RecordTenantID() != tenantID {
				return nil
			}
			ok, err := CanAccessTenant(gctx, userID, tenantID, repo)
			if err != nil {
				return err
			}
			allowed[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FilterResult[T]{}, err
	}

	result := FilterResult[T]{Allowed: make([]T, 0, len(records))}
	for i, record := range records {
		if allowed[i] {
			result.Allowed = append(result.Allowed, record)
		} else {
			result.DeniedCount++
		}
	}
	return result, nil
}

// CanAccessTenant reports whether any membership exists for the user in the
// tenant. Used as a cheap pre-check before filtering a whole batch.
func CanAccessTenant(ctx context.Context, userID domain.UserID, tenantID domain.TenantID, repo ports.MembershipRepository) (bool, error) {
	_, err := repo.FindByUserAndTenant(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
