package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsync/internal/core/domain"
)

func TestRecordRepository_AppendAndList(t *testing.T) {
	repo := NewMemoryRecordRepository()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := repo.Append(ctx, &domain.Record{
			ID:       fmt.Sprintf("rec-%d", i),
			TenantID: "tenant-1",
			OwnerID:  "user-1",
			Channel:  "orders",
		})
		require.NoError(t, err)
	}

	records, err := repo.ListByChannel(ctx, "tenant-1", "orders", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, "rec-3", records[2].ID)
}

func TestRecordRepository_ListHonorsLimit(t *testing.T) {
	repo := NewMemoryRecordRepository()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		err := repo.Append(ctx, &domain.Record{
			ID:       fmt.Sprintf("rec-%d", i),
			TenantID: "tenant-1",
			Channel:  "orders",
		})
		require.NoError(t, err)
	}

	// The most recent records win, oldest first within the window.
	records, err := repo.ListByChannel(ctx, "tenant-1", "orders", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-4", records[0].ID)
	assert.Equal(t, "rec-5", records[1].ID)
}

func TestRecordRepository_ChannelsAreIsolated(t *testing.T) {
	repo := NewMemoryRecordRepository()
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, &domain.Record{ID: "rec-1", TenantID: "tenant-1", Channel: "orders"}))
	require.NoError(t, repo.Append(ctx, &domain.Record{ID: "rec-2", TenantID: "tenant-1", Channel: "audit"}))
	require.NoError(t, repo.Append(ctx, &domain.Record{ID: "rec-3", TenantID: "tenant-2", Channel: "orders"}))

	records, err := repo.ListByChannel(ctx, "tenant-1", "orders", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
}

func TestRecordRepository_RetentionBound(t *testing.T) {
	repo := NewMemoryRecordRepository()
	ctx := context.Background()

	for i := 0; i < maxRecordsPerChannel+10; i++ {
		err := repo.Append(ctx, &domain.Record{
			ID:       fmt.Sprintf("rec-%d", i),
			TenantID: "tenant-1",
			Channel:  "orders",
		})
		require.NoError(t, err)
	}

	records, err := repo.ListByChannel(ctx, "tenant-1", "orders", 0)
	require.NoError(t, err)
	require.Len(t, records, maxRecordsPerChannel)
	assert.Equal(t, "rec-10", records[0].ID)
}
