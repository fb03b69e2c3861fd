package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// RedisMembershipRepository stores memberships in two hashes per membership:
// one keyed by user (field = tenant id) for snapshot loads, one keyed by
// tenant (field = user id) for admin listings. Both are written in the same
// call; a torn write is repaired by the next Upsert/Delete for the pair.
type RedisMembershipRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisMembershipRepository(client *redis.Client) ports.MembershipRepository {
	return &RedisMembershipRepository{
		client: client,
		prefix: "gridsync:membership:",
	}
}

func (r *RedisMembershipRepository) userKey(userID domain.UserID) string {
	return fmt.Sprintf("%suser:%s", r.prefix, userID)
}

func (r *RedisMembershipRepository) tenantKey(tenantID domain.TenantID) string {
	return fmt.Sprintf("%stenant:%s", r.prefix, tenantID)
}

func (r *RedisMembershipRepository) FindByUserID(ctx context.Context, userID domain.UserID) ([]*domain.Membership, error) {
	fields, err := r.client.HGetAll(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships for user %s: %w", userID, err)
	}

	memberships := make([]*domain.Membership, 0, len(fields))
	for _, raw := range fields {
		var m domain.Membership
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal membership for user %s: %w", userID, err)
		}
		memberships = append(memberships, &m)
	}
	return memberships, nil
}

func (r *RedisMembershipRepository) FindByUserAndTenant(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) (*domain.Membership, error) {
	raw, err := r.client.HGet(ctx, r.userKey(userID), string(tenantID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership for user %s in tenant %s: %w", userID, tenantID, err)
	}

	var m domain.Membership
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal membership: %w", err)
	}
	return &m, nil
}

func (r *RedisMembershipRepository) Upsert(ctx context.Context, membership *domain.Membership) error {
	data, err := json.Marshal(membership)
	if err != nil {
		return fmt.Errorf("failed to marshal membership: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.userKey(membership.UserID), string(membership.TenantID), data)
	pipe.HSet(ctx, r.tenantKey(membership.TenantID), string(membership.UserID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store membership: %w", err)
	}
	return nil
}

func (r *RedisMembershipRepository) Delete(ctx context.Context, userID domain.UserID, tenantID domain.TenantID) error {
	removed, err := r.client.HDel(ctx, r.userKey(userID), string(tenantID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if removed == 0 {
		return domain.ErrMembershipNotFound
	}

	if err := r.client.HDel(ctx, r.tenantKey(tenantID), string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete tenant membership index: %w", err)
	}
	return nil
}

func (r *RedisMembershipRepository) ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*domain.Membership, error) {
	fields, err := r.client.HGetAll(ctx, r.tenantKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships for tenant %s: %w", tenantID, err)
	}

	memberships := make([]*domain.Membership, 0, len(fields))
	for _, raw := range fields {
		var m domain.Membership
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal membership for tenant %s: %w", tenantID, err)
		}
		memberships = append(memberships, &m)
	}
	return memberships, nil
}
