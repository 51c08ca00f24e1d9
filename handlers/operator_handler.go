package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// ProofSummarizer aggregates the proof-run ledger
type ProofSummarizer interface {
	Summary(ctx context.Context, since time.Time) (*models.ProofSummary, error)
}

// AuditLister reads the operator audit trail
type AuditLister interface {
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}

// OperatorHandler serves the proof ledger and audit trail
type OperatorHandler struct {
	proof  ProofSummarizer
	audit  AuditLister
	now    func() time.Time
	logger *zap.Logger
}

// NewOperatorHandler creates a new OperatorHandler
func NewOperatorHandler(proof ProofSummarizer, audit AuditLister, logger *zap.Logger) *OperatorHandler {
	return &OperatorHandler{proof: proof, audit: audit, now: time.Now, logger: logger}
}

// HandleProofSummary handles GET /api/v1/proof/summary?since=RFC3339
// since defaults to 24 hours ago.
func (h *OperatorHandler) HandleProofSummary(w http.ResponseWriter, r *http.Request) {
	since := h.now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			_ = utils.WriteBadRequest(w, "since must be an RFC3339 timestamp", nil)
			return
		}
		since = parsed
	}

	summary, err := h.proof.Summary(r.Context(), since)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, summary)
}

// HandleListAudit handles GET /api/v1/audit
func (h *OperatorHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := utils.Pagination(r, 50, 500)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	logs, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, logs)
}
