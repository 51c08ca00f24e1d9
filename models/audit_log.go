package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the operator action being audited
type AuditAction string

const (
	AuditActionPause       AuditAction = "controls_pause"
	AuditActionResume      AuditAction = "controls_resume"
	AuditActionKill        AuditAction = "controls_kill"
	AuditActionUnkill      AuditAction = "controls_unkill"
	AuditActionProofMode   AuditAction = "controls_proof_mode"
	AuditActionRequeue     AuditAction = "action_requeue"
	AuditActionEnqueue     AuditAction = "action_enqueue"
	AuditActionCampaignRun AuditAction = "campaign_run"
)

// AuditLog represents an operator audit trail entry
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Actor     string          `json:"actor" db:"actor"`
	Action    AuditAction     `json:"action" db:"action"`
	Details   json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "operator_audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(actor string, action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Actor:     actor,
		Action:    action,
		Details:   json.RawMessage(`{}`),
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID string) *AuditLog {
	a.RequestID = requestID
	return a
}
