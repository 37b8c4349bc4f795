// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"io"
	"net/http"

	"ordersync/internal/services"
	"ordersync/internal/transport/httpdto"
	ordersync_errors "ordersync/pkg/errors"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// WebhookHandler receives provider deliveries. It acks with 202 once
// the event is durably queued, never once it is fully processed; the
// provider treats any non-2xx as "redeliver later".
type WebhookHandler struct {
	ingest *services.IngestService
}

func NewWebhookHandler(ingest *services.IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unreadable body", "INVALID_REQUEST"))
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	timestamp := c.GetHeader("X-Webhook-Timestamp")

	res, err := h.ingest.Ingest(c.Request.Context(), body, signature, timestamp)
	if err != nil {
		writeIngestError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(httpdto.WebhookAckDTO{
		EventID:   res.EventID,
		Duplicate: res.Duplicate,
		Queued:    res.Queued,
	}))
}

func writeIngestError(c *gin.Context, err error) {
	switch ordersync_errors.KindOf(err) {
	case ordersync_errors.KindAuthentication:
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse(err.Error(), "UNAUTHORIZED"))
	case ordersync_errors.KindValidation:
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
	case ordersync_errors.KindTransientExternal:
		// 503 makes the provider redeliver once the store recovers.
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("temporarily unavailable", "UNAVAILABLE"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
	}
}
