package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// maxRecordsPerChannel bounds per-channel retention; LTRIM after every push
// keeps the list at capacity.
const maxRecordsPerChannel = 256

// RedisRecordRepository keeps each channel's backlog in a list, newest at
// the head.
type RedisRecordRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRecordRepository(client *redis.Client) ports.RecordRepository {
	return &RedisRecordRepository{
		client: client,
		prefix: "gridsync:records:",
	}
}

func (r *RedisRecordRepository) channelKey(tenantID domain.TenantID, channel string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, tenantID, channel)
}

func (r *RedisRecordRepository) Append(ctx context.Context, record *domain.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := r.channelKey(record.TenantID, record.Channel)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxRecordsPerChannel-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (r *RedisRecordRepository) ListByChannel(ctx context.Context, tenantID domain.TenantID, channel string, limit int) ([]domain.Record, error) {
	if limit <= 0 || limit > maxRecordsPerChannel {
		limit = maxRecordsPerChannel
	}

	raw, err := r.client.LRange(ctx, r.channelKey(tenantID, channel), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records for channel %s: %w", channel, err)
	}

	// LRange returns newest first; reverse so callers see oldest first.
	records := make([]domain.Record, len(raw))
	for i, item := range raw {
		var rec domain.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records[len(raw)-1-i] = rec
	}
	return records, nil
}
