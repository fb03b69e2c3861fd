package memory

import (
	"context"
	"sync"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
)

// maxRecordsPerChannel bounds per-channel retention; the oldest record is
// dropped when a new one arrives at capacity.
const maxRecordsPerChannel = 256

type channelKey struct {
	tenantID domain.TenantID
	channel  string
}

// MemoryRecordRepository keeps a bounded record backlog per channel.
type MemoryRecordRepository struct {
	mu       sync.RWMutex
	channels map[channelKey][]domain.Record
}

func NewMemoryRecordRepository() ports.RecordRepository {
	return &MemoryRecordRepository{
		channels: make(map[channelKey][]domain.Record),
	}
}

func (r *MemoryRecordRepository) Append(ctx context.Context, record *domain.Record) error {
	key := channelKey{tenantID: record.TenantID, channel: record.Channel}

	r.mu.Lock()
	defer r.mu.Unlock()

	backlog := append(r.channels[key], *record)
	if len(backlog) > maxRecordsPerChannel {
		backlog = backlog[len(backlog)-maxRecordsPerChannel:]
	}
	r.channels[key] = backlog
	return nil
}

func (r *MemoryRecordRepository) ListByChannel(ctx context.Context, tenantID domain.TenantID, channel string, limit int) ([]domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backlog := r.channels[channelKey{tenantID: tenantID, channel: channel}]
	if limit > 0 && len(backlog) > limit {
		backlog = backlog[len(backlog)-limit:]
	}

	records := make([]domain.Record, len(backlog))
	copy(records, backlog)
	return records, nil
}
