package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/autonomy-orchestrator/middleware"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services"
	"github.com/upb/autonomy-orchestrator/services/orchestrator"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// CampaignRunner runs one orchestration pass over a campaign
type CampaignRunner interface {
	RunCampaign(ctx context.Context, campaignID int64) (*models.CampaignOrchestratorRun, error)
}

// RunReader reads campaign orchestrator runs
type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.CampaignOrchestratorRun, error)
	ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignOrchestratorRun, error)
}

// CampaignHandler serves campaign run endpoints
type CampaignHandler struct {
	runner CampaignRunner
	runs   RunReader
	audit  AuditRecorder
	logger *zap.Logger
}

// NewCampaignHandler creates a new CampaignHandler. audit may be nil.
func NewCampaignHandler(runner CampaignRunner, runs RunReader, audit AuditRecorder, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{runner: runner, runs: runs, audit: audit, logger: logger}
}

// HandleListRuns handles GET /api/v1/campaigns/{id}/runs
func (h *CampaignHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	campaignID, err := utils.ParseID(chi.URLParam(r, "id"), "campaign id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	limit, _, err := utils.Pagination(r, 20, 200)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	runs, err := h.runs.ListByCampaign(r.Context(), campaignID, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if runs == nil {
		runs = []*models.CampaignOrchestratorRun{}
	}
	_ = utils.WriteOK(w, runs)
}

// HandleGetRun handles GET /api/v1/runs/{runID}
func (h *CampaignHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := utils.ParseUUID(chi.URLParam(r, "runID"), "run id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	run, err := h.runs.GetByID(r.Context(), runID)
	if errors.Is(err, repositories.ErrNotFound) {
		err = services.ErrCampaignRunNotFound
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, run)
}

// HandleTriggerRun handles POST /api/v1/campaigns/{id}/runs
// The pass runs synchronously. Once a run row exists it is returned whatever
// its final status; refusals before that map to error statuses.
func (h *CampaignHandler) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := utils.ParseID(chi.URLParam(r, "id"), "campaign id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actor := middleware.GetActorFromContext(ctx)
	run, err := h.runner.RunCampaign(ctx, campaignID)
	if run == nil {
		if errors.Is(err, orchestrator.ErrPaused) {
			_ = utils.WriteError(w, http.StatusLocked, err.Error(), nil)
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}
	if err != nil {
		h.logger.Warn("triggered campaign run did not complete",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Int64("campaign_id", campaignID),
			zap.String("status", string(run.Status)),
			zap.Error(err))
	}

	if h.audit != nil {
		details := map[string]interface{}{
			"campaign_id": campaignID,
			"run_id":      run.ID.String(),
			"status":      run.Status,
		}
		if err := h.audit.Record(ctx, actor, models.AuditActionCampaignRun, details); err != nil {
			h.logger.Warn("failed to record audit entry", zap.Error(err))
		}
	}
	_ = utils.WriteOK(w, run)
}
