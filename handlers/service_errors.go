package handlers

import (
	"net/http"

	"github.com/upb/autonomy-orchestrator/services"
	"github.com/upb/autonomy-orchestrator/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case services.IsNotFoundError(err):
		status = http.StatusNotFound
	case services.IsValidationError(err):
		status = http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		status = http.StatusUnauthorized
		details = nil
	case services.IsForbiddenError(err):
		status = http.StatusForbidden
		details = nil
	case services.IsConflictError(err), services.IsCoordinationError(err):
		// A held lease is reported as a conflict; the caller may retry later.
		status = http.StatusConflict
	case services.IsSafetyError(err):
		status = http.StatusLocked
	case services.IsExternalError(err):
		status = http.StatusBadGateway
	case services.IsInternalError(err), services.IsConfigurationError(err):
		logger.Error("internal server error", zap.Error(err))
		message = "An internal error occurred"
		details = nil
	default:
		logger.Error("unhandled error type", zap.Error(err))
		message = "An unexpected error occurred"
		details = nil
	}

	if err := utils.WriteError(w, status, message, details); err != nil {
		logger.Error("failed to write error response", zap.Int("status", status), zap.Error(err))
	}

	logger.Debug("handled service error",
		zap.Int("status", status),
		zap.String("type", string(services.GetErrorType(err))),
		zap.Error(err))
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
