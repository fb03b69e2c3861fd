package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
	"gridsync/pkg/errors"
	"gridsync/pkg/utils"
	"gridsync/pkg/validation"
)

// RecordPusher fans a record batch out to subscribed connections, filtering
// per connection. The realtime gateway implements it.
type RecordPusher interface {
	PushRecords(ctx context.Context, tenantID domain.TenantID, channel string, records []domain.Record) error
}

// RecordHandler accepts record batches for a tenant channel: each batch is
// retained in the backlog store for later fetches, then pushed to live
// subscribers.
type RecordHandler struct {
	records ports.RecordRepository
	pusher  RecordPusher
	logger  *zap.SugaredLogger
}

func NewRecordHandler(records ports.RecordRepository, pusher RecordPusher, logger *zap.SugaredLogger) *RecordHandler {
	return &RecordHandler{
		records: records,
		pusher:  pusher,
		logger:  logger,
	}
}

// SetupRoutes registers record routes on a group that already carries auth
// and tenant-role middleware.
func (h *RecordHandler) SetupRoutes(records *gin.RouterGroup) {
	records.POST("", h.PublishRecords)
}

type PublishRecordsRequest struct {
	Channel string          `json:"channel" binding:"required,max=200"`
	Records []PublishRecord `json:"records" binding:"required"`
}

type PublishRecord struct {
	ID      string                 `json:"id"`
	OwnerID string                 `json:"owner_id" binding:"required,max=100"`
	Data    map[string]interface{} `json:"data"`
}

func (h *RecordHandler) PublishRecords(c *gin.Context) {
	tenantID := domain.TenantID(c.Param("tenantId"))

	var req PublishRecordsRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := validation.ValidateChannel(req.Channel); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if len(req.Records) == 0 {
		c.Error(errors.NewInvalidInputError("records must not be empty"))
		return
	}

	batch := make([]domain.Record, 0, len(req.Records))
	for _, item := range req.Records {
		id := item.ID
		if id == "" {
			id = utils.GenerateID("rec")
		}
		record := domain.Record{
			ID:       id,
			TenantID: tenantID,
			OwnerID:  domain.UserID(item.OwnerID),
			Channel:  req.Channel,
			Data:     item.Data,
		}
		if err := h.records.Append(c.Request.Context(), &record); err != nil {
			c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to store record", http.StatusInternalServerError))
			return
		}
		batch = append(batch, record)
	}

	// The batch is already durable in the backlog; a failed push only costs
	// subscribers the live delivery, they can still fetch.
	if err := h.pusher.PushRecords(c.Request.Context(), tenantID, req.Channel, batch); err != nil {
		h.logger.Warnw("failed to push records to subscribers",
			"tenant_id", tenantID,
			"channel", req.Channel,
			"error", err,
		)
	}

	h.logger.Infow("records published",
		"tenant_id", tenantID,
		"channel", req.Channel,
		"count", len(batch),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "published",
		"channel": req.Channel,
		"count":   len(batch),
	})
}
