package reliability

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
	"gridsync/pkg/circuitbreaker"
	"gridsync/pkg/retry"
)

// MembershipRepositoryWrapper wraps a MembershipRepository with retry logic
// and a circuit breaker. Used on the admin write path; the connection cache
// reads the raw repository so a load failure surfaces to the caller instead
// of being retried behind its back.
type MembershipRepositoryWrapper struct {
	repo   ports.MembershipRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewMembershipRepositoryWrapper creates a new wrapper with retry and circuit breaker
func NewMembershipRepositoryWrapper(
	repo ports.MembershipRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *MembershipRepositoryWrapper {
	// Absence is an answer, not a storage fault. Retrying it would add
	// latency and trip the breaker on healthy storage.
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors, domain.ErrMembershipNotFound)

	wrapper := &MembershipRepositoryWrapper{
		repo:           repo,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("membership repository circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *MembershipRepositoryWrapper) execute(ctx context.Context, fn func() error) error {
	if !w.retryConfig.Enabled {
		return fn()
	}

	err := retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, fn)
	})
	if err != nil && errors.Is(err, domain.ErrMembershipNotFound) {
		// Unwrap the retry/breaker framing so callers can match the sentinel.
		return domain.ErrMembershipNotFound
	}
	return err
}

// FindByUserID implements ports.MembershipRepository
func (w *MembershipRepositoryWrapper) FindByUserID(ctx context.Context, userID domain.UserID) ([]*domain.Membership, error) {
	var result []*domain.Membership
	err := w.execute(ctx, func() error {
		var innerErr error
		result, innerErr = w.repo.FindByUserID(ctx, userID)
		return innerErr
	})
	return result, err
}

// FindByUserAndTenant implements ports.MembershipRepository
func (w *MembershipRepositoryWrapper) FindByUserAndTenant(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) (*domain.Membership, error) {
	var result *domain.Membership
	err := w.execute(ctx, func() error {
		var innerErr error
		result, innerErr = w.repo.FindByUserAndTenant(ctx, userID, tenantID)
		return innerErr
	})
	return result, err
}

// Upsert implements ports.MembershipRepository
func (w *MembershipRepositoryWrapper) Upsert(ctx context.Context, membership *domain.Membership) error {
	return w.execute(ctx, func() error {
		return w.repo.Upsert(ctx, membership)
	})
}

// Delete implements ports.MembershipRepository
func (w *MembershipRepositoryWrapper) Delete(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) error {
	return w.execute(ctx, func() error {
		return w.repo.Delete(ctx, userID, tenantID)
	})
}

// ListByTenant implements ports.MembershipRepository
func (w *MembershipRepositoryWrapper) ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*domain.Membership, error) {
	var result []*domain.Membership
	err := w.execute(ctx, func() error {
		var innerErr error
		result, innerErr = w.repo.ListByTenant(ctx, tenantID)
		return innerErr
	})
	return result, err
}

// BreakerState exposes the circuit breaker state for health reporting.
func (w *MembershipRepositoryWrapper) BreakerState() circuitbreaker.State {
	return w.circuitBreaker.GetState()
}
