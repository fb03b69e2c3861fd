package services

import (
	"context"

	"go.uber.org/zap"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// PermissionPropagator corrects already-open connections after an
// administrative permission change. It walks the cache to find every
// connection belonging to the affected user, tears down now-unauthorized
// subscriptions, notifies the client, and refreshes the cached snapshot so
// subsequent role checks see the change immediately instead of waiting out
// the TTL.
//
// The scan is O(tracked connections) per event. Propagation is a rare
// administrative action, not a hot path, so no secondary user index is kept.
type PermissionPropagator struct {
	cache         *PermissionCache
	connections   ports.ConnectionRegistry
	subscriptions ports.SubscriptionRegistry
	logger        *zap.SugaredLogger
}

func NewPermissionPropagator(
	cache *PermissionCache,
	connections ports.ConnectionRegistry,
	subscriptions ports.SubscriptionRegistry,
	logger *zap.SugaredLogger,
) *PermissionPropagator {
	return &PermissionPropagator{
		cache:         cache,
		connections:   connections,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// OnMembershipRevoked reacts to a membership being deleted. For every live
// connection of the user: remove the tenant's subscriptions, push a
// permission_revoked event (best effort), then refresh the cache entry.
func (p *PermissionPropagator) OnMembershipRevoked(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) domain.PropagationResult {
	result := domain.PropagationResult{
		NotifiedConnectionIDs: []domain.ConnectionID{},
	}

	for _, connID := range p.connectionsForUser(userID) {
		result.AffectedConnections++

		removed := p.subscriptions.RemoveSubscriptionsForTenant(connID, tenantID)
		result.RemovedSubscriptions += removed

		if p.notify(connID, domain.NewAccessRevokedEvent(tenantID)) {
			result.NotifiedConnectionIDs = append(result.NotifiedConnectionIDs, connID)
		}

		p.refresh(ctx, connID)

		p.logger.Infow("revoked tenant access on connection",
			"connection_id", connID,
			"user_id", userID,
			"tenant_id", tenantID,
			"removed_subscriptions", removed,
		)
	}

	return result
}

// OnRoleChanged reacts to a role update. Upgrades (and no-op changes) only
// refresh the cache: nothing the client holds became unauthorized, so no
// teardown and no notification. Downgrades refresh the cache FIRST, so any
// inline role check during teardown sees the new role, then remove the
// tenant's subscriptions and notify with the new role attached.
func (p *PermissionPropagator) OnRoleChanged(ctx context.Context, userID domain.UserID, tenantID domain.TenantID, oldRole, newRole domain.Role) domain.PropagationResult {
	result := domain.PropagationResult{
		NotifiedConnectionIDs: []domain.ConnectionID{},
	}

	downgrade := newRole.Level() < oldRole.Level()

	for _, connID := range p.connectionsForUser(userID) {
		result.AffectedConnections++

		p.refresh(ctx, connID)

		if !downgrade {
			continue
		}

		removed := p.subscriptions.RemoveSubscriptionsForTenant(connID, tenantID)
		result.RemovedSubscriptions += removed

		if p.notify(connID, domain.NewRoleDowngradedEvent(tenantID, oldRole, newRole)) {
			result.NotifiedConnectionIDs = append(result.NotifiedConnectionIDs, connID)
		}

		p.logger.Infow("downgraded tenant access on connection",
			"connection_id", connID,
			"user_id", userID,
			"tenant_id", tenantID,
			"old_role", oldRole,
			"new_role", newRole,
			"removed_subscriptions", removed,
		)
	}

	return result
}

// connectionsForUser scans every tracked connection id and keeps the ones the
// cache associates with the user.
func (p *PermissionPropagator) connectionsForUser(userID domain.UserID) []domain.ConnectionID {
	var matched []domain.ConnectionID
	for _, connID := range p.cache.ConnectionIDs() {
		if cachedUser, ok := p.cache.UserIDFor(connID); ok && cachedUser == userID {
			matched = append(matched, connID)
		}
	}
	return matched
}

// notify pushes a revocation event to the connection's socket. Send failures
// are swallowed: a client that already disconnected must not abort
// bookkeeping for the user's other connections. Reports whether the client
// was reached.
func (p *PermissionPropagator) notify(connID domain.ConnectionID, event domain.RevocationEvent) bool {
	socket, ok := p.connections.GetConnection(connID)
	if !ok {
		p.logger.Debugw("no live socket for connection, skipping notification",
			"connection_id", connID,
		)
		return false
	}

	data, err := event.MarshalJSON()
	if err != nil {
		p.logger.Warnw("failed to marshal revocation event",
			"connection_id", connID,
			"error", err,
		)
		return false
	}

	if err := socket.Send(data); err != nil {
		p.logger.Infow("failed to notify connection of revocation",
			"connection_id", connID,
			"error", err,
		)
		return false
	}
	return true
}

// refresh reloads the connection's snapshot. Failures are logged, not
// propagated: the TTL still bounds how long the stale snapshot survives, and
// one unreachable repository must not abort propagation to other
// connections.
func (p *PermissionPropagator) refresh(ctx context.Context, connID domain.ConnectionID) {
	if _, err := p.cache.RefreshPermissions(ctx, connID); err != nil {
		p.logger.Warnw("failed to refresh permissions during propagation",
			"connection_id", connID,
			"error", err,
		)
	}
}
