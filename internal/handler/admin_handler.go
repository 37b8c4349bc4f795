package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"ordersync/internal/domain/event"
	"ordersync/internal/domain/reconciliation"
	"ordersync/internal/reconcile"
	"ordersync/internal/repository"
	"ordersync/internal/transport/httpdto"
	ordersync_errors "ordersync/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Sweeper runs one reconciliation pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (reconciliation.SweepStats, error)
}

// AdminHandler exposes the operator controls: manual reconcile,
// force-fail, dead-letter inspection and requeue.
type AdminHandler struct {
	events   repository.EventRepository
	findings repository.FindingRepository
	sweeper  Sweeper
}

func NewAdminHandler(events repository.EventRepository, findings repository.FindingRepository, sweeper Sweeper) *AdminHandler {
	return &AdminHandler{events: events, findings: findings, sweeper: sweeper}
}

// TriggerReconcile runs a sweep synchronously and returns its stats.
func (h *AdminHandler) TriggerReconcile(c *gin.Context) {
	stats, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrSweepInProgress) {
			c.JSON(http.StatusConflict, httpdto.NewErrorResponse(err.Error(), "SWEEP_IN_PROGRESS"))
			return
		}
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "SWEEP_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toSweepDTO(stats)))
}

// ForceFail marks a stuck processing record FAILED, ignoring leases.
func (h *AdminHandler) ForceFail(c *gin.Context) {
	eventID := c.Param("id")

	var req httpdto.ForceFailRequest
	_ = c.ShouldBindJSON(&req)
	reason := req.Reason
	if reason == "" {
		reason = "forced by operator"
	}

	if err := h.events.ForceFail(c.Request.Context(), eventID, reason); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"event_id": eventID, "status": string(event.StatusFailed)}))
}

// Requeue returns a dead-lettered event to the queue for a fresh
// attempt cycle.
func (h *AdminHandler) Requeue(c *gin.Context) {
	eventID := c.Param("id")
	if err := h.events.Requeue(c.Request.Context(), eventID); err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"event_id": eventID, "status": string(event.StatusQueued)}))
}

// ListDeadLetters pages the dead-letter queue for inspection.
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit := parseLimit(c, 50)
	records, err := h.events.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		writeAdminError(c, err)
		return
	}
	out := make([]httpdto.ProcessingRecordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toProcessingDTO(rec))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

// GetEventStatus returns one processing record by event id.
func (h *AdminHandler) GetEventStatus(c *gin.Context) {
	rec, err := h.events.GetProcessing(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toProcessingDTO(rec)))
}

// QueueStats returns record counts by status.
func (h *AdminHandler) QueueStats(c *gin.Context) {
	counts, err := h.events.CountByStatus(c.Request.Context())
	if err != nil {
		writeAdminError(c, err)
		return
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

// ListFindings returns recent reconciliation findings.
func (h *AdminHandler) ListFindings(c *gin.Context) {
	limit := parseLimit(c, 100)
	findings, err := h.findings.ListRecent(c.Request.Context(), limit)
	if err != nil {
		writeAdminError(c, err)
		return
	}
	out := make([]httpdto.FindingDTO, 0, len(findings))
	for _, f := range findings {
		out = append(out, httpdto.FindingDTO{
			ID:        f.ID.String(),
			SweepID:   f.SweepID.String(),
			Type:      string(f.Type),
			EntityID:  f.EntityID,
			Detail:    f.Detail,
			Action:    string(f.Action),
			CreatedAt: f.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

func toProcessingDTO(rec event.ProcessingRecord) httpdto.ProcessingRecordDTO {
	dto := httpdto.ProcessingRecordDTO{
		EventID:      rec.EventID,
		PartitionKey: rec.PartitionKey,
		Status:       string(rec.Status),
		Attempts:     rec.Attempts,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.LastError.Valid {
		dto.LastError = rec.LastError.String
	}
	if rec.NextRetryAt.Valid {
		t := rec.NextRetryAt.Time
		dto.NextRetryAt = &t
	}
	if rec.LockOwner.Valid {
		dto.LockOwner = rec.LockOwner.String
	}
	if rec.LockExpiresAt.Valid {
		t := rec.LockExpiresAt.Time
		dto.LockExpiresAt = &t
	}
	return dto
}

func toSweepDTO(stats reconciliation.SweepStats) httpdto.SweepResultDTO {
	return httpdto.SweepResultDTO{
		SweepID:       stats.SweepID.String(),
		StartedAt:     stats.StartedAt,
		FinishedAt:    stats.FinishedAt,
		OrdersScanned: stats.OrdersScanned,
		StuckForced:   stats.StuckForced,
		Corrected:     stats.Corrected,
		Reported:      stats.Reported,
		Cancelled:     stats.Cancelled,
	}
}

func writeAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ordersync_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("not found", "NOT_FOUND"))
	case errors.Is(err, ordersync_errors.ErrInvalidTransition):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse(err.Error(), "CONFLICT"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "INTERNAL_ERROR"))
	}
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return fallback
	}
	return n
}
