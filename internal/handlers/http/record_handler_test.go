package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
	"gridsync/internal/infrastructure/middleware"
	repomemory "gridsync/internal/infrastructure/repositories/memory"
)

type recordingPusher struct {
	tenantID domain.TenantID
	channel  string
	records  []domain.Record
	calls    int
}

func (p *recordingPusher) PushRecords(ctx context.Context, tenantID domain.TenantID, channel string, records []domain.Record) error {
	p.tenantID = tenantID
	p.channel = channel
	p.records = records
	p.calls++
	return nil
}

func newRecordRouter(t *testing.T) (*gin.Engine, ports.RecordRepository, *recordingPusher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records := repomemory.NewMemoryRecordRepository()
	pusher := &recordingPusher{}
	logger := zaptest.NewLogger(t).Sugar()
	handler := NewRecordHandler(records, pusher, logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	group := router.Group("/api/v1/tenants/:tenantId/records")
	handler.SetupRoutes(group)

	return router, records, pusher
}

func publishRecords(t *testing.T, router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/tenant-1/records", bytes.NewReader(data))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPublishRecords(t *testing.T) {
	router, records, pusher := newRecordRouter(t)

	w := publishRecords(t, router, PublishRecordsRequest{
		Channel: "orders",
		Records: []PublishRecord{
			{ID: "rec-1", OwnerID: "user-1", Data: map[string]interface{}{"total": 42}},
			{OwnerID: "user-2"},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	stored, err := records.ListByChannel(context.Background(), "tenant-1", "orders", 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "rec-1", stored[0].ID)
	assert.NotEmpty(t, stored[1].ID) // id assigned when omitted

	require.Equal(t, 1, pusher.calls)
	assert.Equal(t, domain.TenantID("tenant-1"), pusher.tenantID)
	assert.Equal(t, "orders", pusher.channel)
	assert.Len(t, pusher.records, 2)
}

func TestPublishRecords_EmptyBatch(t *testing.T) {
	router, _, pusher := newRecordRouter(t)

	w := publishRecords(t, router, PublishRecordsRequest{
		Channel: "orders",
		Records: []PublishRecord{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, pusher.calls)
}

func TestPublishRecords_InvalidChannel(t *testing.T) {
	router, _, _ := newRecordRouter(t)

	w := publishRecords(t, router, PublishRecordsRequest{
		Channel: "bad channel!",
		Records: []PublishRecord{{OwnerID: "user-1"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
