package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the state of one campaign orchestrator run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusAborted   RunStatus = "ABORTED"
)

// CampaignOrchestratorRun is the audit row of one per-campaign run.
// Historical rows are retained; exclusivity comes from the campaign lease.
type CampaignOrchestratorRun struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	CampaignID        int64      `json:"campaign_id" db:"campaign_id"`
	Status            RunStatus  `json:"status" db:"status"`
	ClaimedBy         string     `json:"claimed_by" db:"claimed_by"`
	LeaseExpiresAt    time.Time  `json:"lease_expires_at" db:"lease_expires_at"`
	HeartbeatAt       time.Time  `json:"heartbeat_at" db:"heartbeat_at"`
	LeadsProcessed    int        `json:"leads_processed" db:"leads_processed"`
	JobsCreated       int        `json:"jobs_created" db:"jobs_created"`
	AttemptsSucceeded int        `json:"attempts_succeeded" db:"attempts_succeeded"`
	AttemptsFailed    int        `json:"attempts_failed" db:"attempts_failed"`
	LastError         *string    `json:"last_error,omitempty" db:"last_error"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TableName returns the table name for the CampaignOrchestratorRun model
func (CampaignOrchestratorRun) TableName() string {
	return "campaign_orchestrator_runs"
}

// NewCampaignOrchestratorRun creates a RUNNING run row
func NewCampaignOrchestratorRun(campaignID int64, claimedBy string, leaseExpiresAt, now time.Time) *CampaignOrchestratorRun {
	return &CampaignOrchestratorRun{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		Status:         RunStatusRunning,
		ClaimedBy:      claimedBy,
		LeaseExpiresAt: leaseExpiresAt,
		HeartbeatAt:    now,
		StartedAt:      now,
	}
}

// Fail records a per-lead failure and keeps the run going
func (r *CampaignOrchestratorRun) Fail(err error) {
	r.AttemptsFailed++
	msg := err.Error()
	r.LastError = &msg
}
