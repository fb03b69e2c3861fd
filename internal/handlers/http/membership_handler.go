package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
	"gridsync/internal/core/services"
	"gridsync/internal/infrastructure/monitoring"
	"gridsync/pkg/distributed"
	"gridsync/pkg/errors"
	"gridsync/pkg/utils"
	"gridsync/pkg/validation"
)

// RevocationPublisher fans a membership change out to the other gateway
// instances. Nil when running single-instance without redis.
type RevocationPublisher interface {
	PublishMembershipGranted(ctx context.Context, userID domain.UserID, tenantID domain.TenantID, role domain.Role) error
	PublishRoleChanged(ctx context.Context, userID domain.UserID, tenantID domain.TenantID, oldRole, newRole domain.Role) error
	PublishMembershipRevoked(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) error
}

// MembershipLocker serializes admin writes to the same membership across
// gateway instances. Nil when running single-instance without redis.
type MembershipLocker interface {
	AcquireMembershipLock(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, ttl time.Duration) (*distributed.DistributedLock, error)
}

const membershipLockTTL = 5 * time.Second

// MembershipHandler is the admin API for tenant memberships. Every write
// goes to the repository first, then to the local propagator so this
// instance's live connections are corrected, then to the bus so other
// instances correct theirs.
type MembershipHandler struct {
	repo       ports.MembershipRepository
	propagator *services.PermissionPropagator
	publisher  RevocationPublisher
	collector  *monitoring.PrometheusCollector
	locker     MembershipLocker
	logger     *zap.SugaredLogger
}

func NewMembershipHandler(
	repo ports.MembershipRepository,
	propagator *services.PermissionPropagator,
	publisher RevocationPublisher,
	collector *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *MembershipHandler {
	return &MembershipHandler{
		repo:       repo,
		propagator: propagator,
		publisher:  publisher,
		collector:  collector,
		logger:     logger,
	}
}

// SetMembershipLocker enables cross-instance serialization of admin writes.
func (h *MembershipHandler) SetMembershipLocker(locker MembershipLocker) {
	h.locker = locker
}

// lockMembership takes the cross-instance write lock when a locker is
// configured. A failed acquisition is logged and the write proceeds: the
// lock narrows the interleaving window, the repository write stays the
// source of truth either way.
func (h *MembershipHandler) lockMembership(ctx context.Context, tenantID domain.TenantID, userID domain.UserID) func() {
	if h.locker == nil {
		return func() {}
	}
	lock, err := h.locker.AcquireMembershipLock(ctx, tenantID, userID, membershipLockTTL)
	if err != nil {
		h.logger.Warnw("failed to acquire membership lock",
			"tenant_id", tenantID,
			"user_id", userID,
			"error", err,
		)
		return func() {}
	}
	return func() {
		if err := lock.Unlock(context.Background()); err != nil {
			h.logger.Warnw("failed to release membership lock", "error", err)
		}
	}
}

// SetupRoutes registers membership routes on a group that already carries
// auth and tenant-role middleware.
func (h *MembershipHandler) SetupRoutes(members *gin.RouterGroup) {
	members.GET("", h.ListMembers)
	members.POST("", h.GrantMembership)
	members.PUT("/:userId", h.UpdateRole)
	members.DELETE("/:userId", h.RevokeMembership)
}

type GrantMembershipRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
	Role   string `json:"role" binding:"required,max=20"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required,max=20"`
}

func (h *MembershipHandler) ListMembers(c *gin.Context) {
	tenantID := domain.TenantID(c.Param("tenantId"))

	memberships, err := h.repo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to list members", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"members":   memberships,
		"count":     len(memberships),
	})
}

func (h *MembershipHandler) GrantMembership(c *gin.Context) {
	tenantID := domain.TenantID(c.Param("tenantId"))

	var req GrantMembershipRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateRole(req.Role); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	userID := domain.UserID(req.UserID)
	role := domain.ParseRole(req.Role)

	unlock := h.lockMembership(c.Request.Context(), tenantID, userID)
	defer unlock()

	existing, err := h.repo.FindByUserAndTenant(c.Request.Context(), userID, tenantID)
	if err != nil && !stderrors.Is(err, domain.ErrMembershipNotFound) {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to check existing membership", http.StatusInternalServerError))
		return
	}
	if existing != nil {
		c.Error(errors.NewConflictError("user is already a member of this tenant"))
		return
	}

	membership := &domain.Membership{
		ID:       utils.GenerateMembershipID(),
		TenantID: tenantID,
		UserID:   userID,
		Role:     role,
	}

	if err := h.repo.Upsert(c.Request.Context(), membership); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to grant membership", http.StatusInternalServerError))
		return
	}

	// A grant never invalidates anything a connection holds; live snapshots
	// pick it up on TTL expiry or the next refresh. Other instances are
	// still told so they can refresh eagerly.
	h.publish(c.Request.Context(), func(ctx context.Context) error {
		return h.publisher.PublishMembershipGranted(ctx, userID, tenantID, role)
	})

	h.logger.Infow("membership granted",
		"tenant_id", tenantID,
		"user_id", userID,
		"role", role,
	)

	c.JSON(http.StatusCreated, gin.H{"membership": membership})
}

func (h *MembershipHandler) UpdateRole(c *gin.Context) {
	tenantID := domain.TenantID(c.Param("tenantId"))
	userID := domain.UserID(c.Param("userId"))

	var req UpdateRoleRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := validation.ValidateRole(req.Role); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	newRole := domain.ParseRole(req.Role)

	unlock := h.lockMembership(c.Request.Context(), tenantID, userID)
	defer unlock()

	membership, err := h.repo.FindByUserAndTenant(c.Request.Context(), userID, tenantID)
	if err != nil {
		if stderrors.Is(err, domain.ErrMembershipNotFound) {
			c.Error(errors.NewNotFoundError("membership"))
		} else {
			c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to load membership", http.StatusInternalServerError))
		}
		return
	}

	oldRole := membership.Role
	membership.Role = newRole

	if err := h.repo.Upsert(c.Request.Context(), membership); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to update role", http.StatusInternalServerError))
		return
	}

	start := time.Now()
	result := h.propagator.OnRoleChanged(c.Request.Context(), userID, tenantID, oldRole, newRole)
	if h.collector != nil {
		h.collector.RecordPropagation("role_changed", result.RemovedSubscriptions, len(result.NotifiedConnectionIDs), result.AffectedConnections, time.Since(start))
	}

	h.publish(c.Request.Context(), func(ctx context.Context) error {
		return h.publisher.PublishRoleChanged(ctx, userID, tenantID, oldRole, newRole)
	})

	h.logger.Infow("role updated",
		"tenant_id", tenantID,
		"user_id", userID,
		"old_role", oldRole,
		"new_role", newRole,
		"affected_connections", result.AffectedConnections,
	)

	c.JSON(http.StatusOK, gin.H{
		"membership":  membership,
		"propagation": result,
	})
}

func (h *MembershipHandler) RevokeMembership(c *gin.Context) {
	tenantID := domain.TenantID(c.Param("tenantId"))
	userID := domain.UserID(c.Param("userId"))

	unlock := h.lockMembership(c.Request.Context(), tenantID, userID)
	defer unlock()

	if err := h.repo.Delete(c.Request.Context(), userID, tenantID); err != nil {
		if stderrors.Is(err, domain.ErrMembershipNotFound) {
			c.Error(errors.NewNotFoundError("membership"))
		} else {
			c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to revoke membership", http.StatusInternalServerError))
		}
		return
	}

	start := time.Now()
	result := h.propagator.OnMembershipRevoked(c.Request.Context(), userID, tenantID)
	if h.collector != nil {
		h.collector.RecordPropagation("membership_revoked", result.RemovedSubscriptions, len(result.NotifiedConnectionIDs), result.AffectedConnections, time.Since(start))
	}

	h.publish(c.Request.Context(), func(ctx context.Context) error {
		return h.publisher.PublishMembershipRevoked(ctx, userID, tenantID)
	})

	h.logger.Infow("membership revoked",
		"tenant_id", tenantID,
		"user_id", userID,
		"affected_connections", result.AffectedConnections,
		"removed_subscriptions", result.RemovedSubscriptions,
	)

	c.JSON(http.StatusOK, gin.H{
		"status":      "revoked",
		"propagation": result,
	})
}

// publish sends a bus event when a publisher is configured. Failures are
// logged and swallowed: the local change already took effect, and remote
// caches age out on their TTL even if the event is lost.
func (h *MembershipHandler) publish(ctx context.Context, fn func(context.Context) error) {
	if h.publisher == nil {
		return
	}
	if err := fn(ctx); err != nil {
		h.logger.Warnw("failed to publish permission event", "error", err)
	}
}
