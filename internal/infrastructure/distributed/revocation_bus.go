package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gridsync/internal/core/domain"
)

// EventType represents the type of event
type EventType string

const (
	EventMembershipRevoked EventType = "membership.revoked"
	EventRoleChanged       EventType = "role.changed"
	EventMembershipGranted EventType = "membership.granted"
)

// Event represents a cross-instance permission event. Every gateway
// instance applies it to its own local permission cache; the publishing
// instance has already applied it locally and skips its own messages.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	UserID     domain.UserID   `json:"user_id,omitempty"`
	TenantID   domain.TenantID `json:"tenant_id,omitempty"`
	OldRole    domain.Role     `json:"old_role,omitempty"`
	NewRole    domain.Role     `json:"new_role,omitempty"`
}

// RevocationBus fans membership changes out to all gateway instances
// over redis pub/sub.
type RevocationBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channels   []string
}

// NewRevocationBus creates a new revocation bus
func NewRevocationBus(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *RevocationBus {
	return &RevocationBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channels:   []string{"gridsync:permission-events"},
	}
}

// Publish publishes an event to the bus
func (b *RevocationBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = b.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := b.channels[0]
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debugw("published permission event",
		"type", event.Type,
		"user_id", event.UserID,
		"tenant_id", event.TenantID,
	)

	return nil
}

// Subscribe subscribes to events and calls handler for each event
// published by another instance. Blocks until ctx is cancelled.
func (b *RevocationBus) Subscribe(ctx context.Context, handler func(context.Context, *Event) error) error {
	if b.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, b.channels...)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("failed to unmarshal permission event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == b.instanceID {
				continue
			}

			if err := handler(ctx, &event); err != nil {
				b.logger.Warnw("error handling permission event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// PublishMembershipRevoked publishes a membership revoked event
func (b *RevocationBus) PublishMembershipRevoked(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) error {
	return b.Publish(ctx, &Event{
		Type:     EventMembershipRevoked,
		UserID:   userID,
		TenantID: tenantID,
	})
}

// PublishRoleChanged publishes a role changed event
func (b *RevocationBus) PublishRoleChanged(ctx context.Context, userID domain.UserID, tenantID domain.TenantID, oldRole, newRole domain.Role) error {
	return b.Publish(ctx, &Event{
		Type:     EventRoleChanged,
		UserID:   userID,
		TenantID: tenantID,
		OldRole:  oldRole,
		NewRole:  newRole,
	})
}

// PublishMembershipGranted publishes a membership granted event
func (b *RevocationBus) PublishMembershipGranted(ctx context.Context, userID domain.UserID, tenantID domain.TenantID, role domain.Role) error {
	return b.Publish(ctx, &Event{
		Type:     EventMembershipGranted,
		UserID:   userID,
		TenantID: tenantID,
		NewRole:  role,
	})
}

// Close closes the bus
func (b *RevocationBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
