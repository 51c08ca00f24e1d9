package handlers

import (
	"context"
	"net/http"

	"github.com/upb/autonomy-orchestrator/middleware"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// ControlService reads and flips the global control flags
type ControlService interface {
	Get(ctx context.Context) (*models.ControlFlags, error)
	Pause(ctx context.Context, actor string) (*models.ControlFlags, error)
	Resume(ctx context.Context, actor string) (*models.ControlFlags, error)
	Kill(ctx context.Context, actor string) (*models.ControlFlags, error)
	Unkill(ctx context.Context, actor string) (*models.ControlFlags, error)
	SetProofMode(ctx context.Context, actor string, enabled bool) (*models.ControlFlags, error)
}

// ProofModeRequest is the body of PUT /api/v1/controls/proof-mode
type ProofModeRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// ControlsHandler serves the operator control endpoints
type ControlsHandler struct {
	controls ControlService
	logger   *zap.Logger
}

// NewControlsHandler creates a new ControlsHandler
func NewControlsHandler(controls ControlService, logger *zap.Logger) *ControlsHandler {
	return &ControlsHandler{controls: controls, logger: logger}
}

// HandleGet handles GET /api/v1/controls
func (h *ControlsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	flags, err := h.controls.Get(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, flags)
}

// HandlePause handles POST /api/v1/controls/pause
func (h *ControlsHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "pause", h.controls.Pause)
}

// HandleResume handles POST /api/v1/controls/resume
func (h *ControlsHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "resume", h.controls.Resume)
}

// HandleKill handles POST /api/v1/controls/kill
func (h *ControlsHandler) HandleKill(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "kill", h.controls.Kill)
}

// HandleUnkill handles POST /api/v1/controls/unkill
func (h *ControlsHandler) HandleUnkill(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "unkill", h.controls.Unkill)
}

// HandleProofMode handles PUT /api/v1/controls/proof-mode
func (h *ControlsHandler) HandleProofMode(w http.ResponseWriter, r *http.Request) {
	var req ProofModeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	enabled := *req.Enabled
	h.apply(w, r, "proof_mode", func(ctx context.Context, actor string) (*models.ControlFlags, error) {
		return h.controls.SetProofMode(ctx, actor, enabled)
	})
}

func (h *ControlsHandler) apply(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, actor string) (*models.ControlFlags, error)) {
	ctx := r.Context()
	actor := middleware.GetActorFromContext(ctx)

	flags, err := fn(ctx, actor)
	if err != nil {
		h.logger.Error("control flag update failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("op", op),
			zap.String("actor", actor),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, flags)
}
