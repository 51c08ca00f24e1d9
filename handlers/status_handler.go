package handlers

import (
	"context"
	"net/http"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/services/status"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// StatusReader produces operator status snapshots
type StatusReader interface {
	Snapshot(ctx context.Context) (*status.Snapshot, error)
}

// TickLister reads the tick ledger
type TickLister interface {
	List(ctx context.Context, limit, offset int) ([]*models.TickEntry, error)
}

// StatusHandler serves status and tick ledger endpoints
type StatusHandler struct {
	status StatusReader
	ticks  TickLister
	logger *zap.Logger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(status StatusReader, ticks TickLister, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{status: status, ticks: ticks, logger: logger}
}

// HandleStatus handles GET /api/v1/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.status.Snapshot(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, snap)
}

// HandleListTicks handles GET /api/v1/ticks
func (h *StatusHandler) HandleListTicks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := utils.Pagination(r, 50, 500)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	ticks, err := h.ticks.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if ticks == nil {
		ticks = []*models.TickEntry{}
	}
	_ = utils.WriteOK(w, ticks)
}
