package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/autonomy-orchestrator/middleware"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/services/queue"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// ActionQueue is the subset of the action queue the operator API exposes
type ActionQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*models.Action, error)
	Get(ctx context.Context, id int64) (*models.Action, error)
	List(ctx context.Context, status models.ActionStatus, limit, offset int) ([]*models.Action, error)
	Requeue(ctx context.Context, id int64) (*models.Action, error)
}

// ExecutionLogReader reads the per-action trace
type ExecutionLogReader interface {
	ListByAction(ctx context.Context, actionID int64) ([]*models.ExecutionLog, error)
}

// AuditRecorder receives one entry per operator mutation
type AuditRecorder interface {
	Record(ctx context.Context, actor string, action models.AuditAction, details interface{}) error
}

// EnqueueResponse reports whether the action was newly created
type EnqueueResponse struct {
	Action  *models.Action `json:"action"`
	Created bool           `json:"created"`
}

// ActionHandler serves the action queue endpoints
type ActionHandler struct {
	queue  ActionQueue
	logs   ExecutionLogReader
	audit  AuditRecorder
	logger *zap.Logger
}

// NewActionHandler creates a new ActionHandler. audit may be nil.
func NewActionHandler(q ActionQueue, logs ExecutionLogReader, audit AuditRecorder, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{queue: q, logs: logs, audit: audit, logger: logger}
}

// HandleEnqueue handles POST /api/v1/actions
// A repeated idempotency key returns the stored action with 200 and changes nothing.
func (h *ActionHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req queue.EnqueueRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	action, err := h.queue.Enqueue(ctx, req)
	switch {
	case errors.Is(err, queue.ErrAlreadyExists):
		_ = utils.WriteOK(w, EnqueueResponse{Action: action, Created: false})
		return
	case err != nil:
		HandleServiceError(w, err, h.logger)
		return
	}

	h.record(ctx, models.AuditActionEnqueue, map[string]interface{}{
		"action_id":       action.ID,
		"idempotency_key": action.IdempotencyKey,
		"action_type":     action.ActionType,
	})
	_ = utils.WriteCreated(w, EnqueueResponse{Action: action, Created: true})
}

// HandleGet handles GET /api/v1/actions/{id}
func (h *ActionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	action, err := h.queue.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, action)
}

// HandleList handles GET /api/v1/actions?status=DLQ
func (h *ActionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := models.ActionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "":
		status = models.ActionStatusPending
	case models.ActionStatusPending, models.ActionStatusRunning, models.ActionStatusDone,
		models.ActionStatusFailed, models.ActionStatusDLQ:
	default:
		_ = utils.WriteBadRequest(w, "status must be one of PENDING, RUNNING, DONE, FAILED, DLQ", nil)
		return
	}

	limit, offset, err := utils.Pagination(r, 50, 500)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actions, err := h.queue.List(r.Context(), status, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if actions == nil {
		actions = []*models.Action{}
	}
	_ = utils.WriteOK(w, actions)
}

// HandleLogs handles GET /api/v1/actions/{id}/logs
func (h *ActionHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := utils.ParseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if _, err := h.queue.Get(ctx, id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	logs, err := h.logs.ListByAction(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.ExecutionLog{}
	}
	_ = utils.WriteOK(w, logs)
}

// HandleRequeue handles POST /api/v1/actions/{id}/requeue
func (h *ActionHandler) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := utils.ParseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	action, err := h.queue.Requeue(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.record(ctx, models.AuditActionRequeue, map[string]interface{}{"action_id": id})
	_ = utils.WriteOK(w, action)
}

func (h *ActionHandler) record(ctx context.Context, action models.AuditAction, details map[string]interface{}) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, middleware.GetActorFromContext(ctx), action, details); err != nil {
		h.logger.Warn("failed to record audit entry",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
