package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gridsync/internal/core/domain"
	"gridsync/pkg/distributed"
)

const (
	connectionEntryTTL = 5 * time.Minute
	connectionSetTTL   = 10 * time.Minute
)

// ConnectionEntry is what the index stores per connection: enough to route
// a revocation to the right instance and to audit who is online.
type ConnectionEntry struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
	UserID       domain.UserID       `json:"user_id"`
	InstanceID   string              `json:"instance_id"`
	RegisteredAt int64               `json:"registered_at"`
}

// SharedConnectionIndex tracks live connections across all gateway
// instances in redis. Entries carry a TTL and must be refreshed by the
// owning instance; a crashed instance's entries age out on their own.
type SharedConnectionIndex struct {
	client      *redis.Client
	lockManager *distributed.LockManager
	instanceID  string
	logger      *zap.SugaredLogger
	prefix      string
}

// NewSharedConnectionIndex creates a new shared connection index
func NewSharedConnectionIndex(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *SharedConnectionIndex {
	return &SharedConnectionIndex{
		client:      client,
		lockManager: distributed.NewLockManager(client, "gridsync:lock:"),
		instanceID:  instanceID,
		logger:      logger,
		prefix:      "gridsync:conn:",
	}
}

// RegisterConnection registers a connection in the shared index
func (r *SharedConnectionIndex) RegisterConnection(ctx context.Context, connID domain.ConnectionID, userID domain.UserID) error {
	entry := ConnectionEntry{
		ConnectionID: connID,
		UserID:       userID,
		InstanceID:   r.instanceID,
		RegisteredAt: time.Now().Unix(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal connection entry: %w", err)
	}

	key := r.connectionKey(connID)
	if err := r.client.Set(ctx, key, data, connectionEntryTTL).Err(); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}

	// Add to user connections set
	userKey := r.userConnectionsKey(userID)
	if err := r.client.SAdd(ctx, userKey, string(connID)).Err(); err != nil {
		return fmt.Errorf("failed to add connection to user set: %w", err)
	}
	r.client.Expire(ctx, userKey, connectionSetTTL)

	// Add to instance connections set
	instanceKey := r.instanceConnectionsKey(r.instanceID)
	if err := r.client.SAdd(ctx, instanceKey, string(connID)).Err(); err != nil {
		return fmt.Errorf("failed to add connection to instance set: %w", err)
	}
	r.client.Expire(ctx, instanceKey, connectionSetTTL)

	return nil
}

// UnregisterConnection removes a connection from the shared index
func (r *SharedConnectionIndex) UnregisterConnection(ctx context.Context, connID domain.ConnectionID) error {
	key := r.connectionKey(connID)

	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // Already unregistered
	}
	if err != nil {
		return fmt.Errorf("failed to get connection entry: %w", err)
	}

	var entry ConnectionEntry
	if err := json.Unmarshal([]byte(data), &entry); err == nil {
		if entry.UserID != "" {
			r.client.SRem(ctx, r.userConnectionsKey(entry.UserID), string(connID))
		}
		if entry.InstanceID != "" {
			r.client.SRem(ctx, r.instanceConnectionsKey(entry.InstanceID), string(connID))
		}
	}

	return r.client.Del(ctx, key).Err()
}

// GetConnection gets a connection entry from the shared index
func (r *SharedConnectionIndex) GetConnection(ctx context.Context, connID domain.ConnectionID) (*ConnectionEntry, error) {
	key := r.connectionKey(connID)
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection entry: %w", err)
	}

	var entry ConnectionEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection entry: %w", err)
	}

	return &entry, nil
}

// FindConnectionsByUser finds all live connections for a user across all instances
func (r *SharedConnectionIndex) FindConnectionsByUser(ctx context.Context, userID domain.UserID) ([]*ConnectionEntry, error) {
	userKey := r.userConnectionsKey(userID)
	connIDs, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user connections: %w", err)
	}

	var entries []*ConnectionEntry
	for _, connIDStr := range connIDs {
		entry, err := r.GetConnection(ctx, domain.ConnectionID(connIDStr))
		if err != nil {
			// Skip connections that have aged out
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// GetInstanceConnections gets all connections registered on a specific instance
func (r *SharedConnectionIndex) GetInstanceConnections(ctx context.Context, instanceID string) ([]domain.ConnectionID, error) {
	instanceKey := r.instanceConnectionsKey(instanceID)
	connIDs, err := r.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance connections: %w", err)
	}

	result := make([]domain.ConnectionID, len(connIDs))
	for i, id := range connIDs {
		result[i] = domain.ConnectionID(id)
	}

	return result, nil
}

// RefreshConnection refreshes the TTL of a connection registration
func (r *SharedConnectionIndex) RefreshConnection(ctx context.Context, connID domain.ConnectionID) error {
	key := r.connectionKey(connID)
	return r.client.Expire(ctx, key, connectionEntryTTL).Err()
}

// CleanupInstanceConnections removes all connections for an instance (e.g., on shutdown)
func (r *SharedConnectionIndex) CleanupInstanceConnections(ctx context.Context, instanceID string) error {
	instanceKey := r.instanceConnectionsKey(instanceID)
	connIDs, err := r.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get instance connections: %w", err)
	}

	for _, connIDStr := range connIDs {
		if err := r.UnregisterConnection(ctx, domain.ConnectionID(connIDStr)); err != nil {
			r.logger.Warnw("failed to unregister connection during cleanup",
				"connection_id", connIDStr,
				"error", err,
			)
		}
	}

	return r.client.Del(ctx, instanceKey).Err()
}

// AcquireMembershipLock acquires a distributed lock for membership writes,
// so concurrent role updates for the same user+tenant serialize across
// instances.
func (r *SharedConnectionIndex) AcquireMembershipLock(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, ttl time.Duration) (*distributed.DistributedLock, error) {
	lockKey := fmt.Sprintf("membership:%s:%s", tenantID, userID)
	lock := r.lockManager.AcquireLock(lockKey, ttl)

	if err := lock.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire membership lock: %w", err)
	}

	return lock, nil
}

func (r *SharedConnectionIndex) connectionKey(connID domain.ConnectionID) string {
	return r.prefix + string(connID)
}

func (r *SharedConnectionIndex) userConnectionsKey(userID domain.UserID) string {
	return fmt.Sprintf("gridsync:user:%s:conns", userID)
}

func (r *SharedConnectionIndex) instanceConnectionsKey(instanceID string) string {
	return fmt.Sprintf("gridsync:instance:%s:conns", instanceID)
}
