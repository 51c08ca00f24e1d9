package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// FlagReader reads the control flags row
type FlagReader interface {
	Get(ctx context.Context) (*models.ControlFlags, error)
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     *sql.DB
	flags  FlagReader
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. flags may be nil.
func NewHealthHandler(db *sql.DB, flags FlagReader, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		flags:  flags,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only: 200 while the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// The database must answer and the control flags row must be readable.
// An engaged kill switch does not make the process unready.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.flags != nil {
		if _, err := h.flags.Get(ctx); err != nil {
			h.logger.Warn("control flags check failed", zap.Error(err))
			checks["control_flags"] = "unhealthy"
			allHealthy = false
		} else {
			checks["control_flags"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
