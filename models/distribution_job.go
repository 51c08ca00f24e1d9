package models

import (
	"fmt"
	"time"
)

// DistributionJobStatus is the delivery state of a distribution job
type DistributionJobStatus string

const (
	DistributionJobQueued DistributionJobStatus = "QUEUED"
	DistributionJobSent   DistributionJobStatus = "SENT"
	DistributionJobFailed DistributionJobStatus = "FAILED"
)

// DistributionJob is one (campaign, lead, step) delivery, unique by idempotency key
type DistributionJob struct {
	ID             int64                 `json:"id" db:"id"`
	IdempotencyKey string                `json:"idempotency_key" db:"idempotency_key"`
	CampaignID     int64                 `json:"campaign_id" db:"campaign_id"`
	LeadID         int64                 `json:"lead_id" db:"lead_id"`
	Channel        string                `json:"channel" db:"channel"`
	StepIndex      int                   `json:"step_index" db:"step_index"`
	Status         DistributionJobStatus `json:"status" db:"status"`
	RetryCount     int                   `json:"retry_count" db:"retry_count"`
	MaxRetries     int                   `json:"max_retries" db:"max_retries"`
	NextRetryAt    *time.Time            `json:"next_retry_at,omitempty" db:"next_retry_at"`
	LastError      *string               `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the DistributionJob model
func (DistributionJob) TableName() string {
	return "distribution_jobs"
}

// DistributionKey builds the deterministic idempotency key for a campaign step
func DistributionKey(campaignID, leadID int64, stepIndex int) string {
	return fmt.Sprintf("%d:%d:%d", campaignID, leadID, stepIndex)
}

// NewDistributionJob creates a queued job for a lead step
func NewDistributionJob(campaign *Campaign, lead *Lead, maxRetries int, now time.Time) *DistributionJob {
	return &DistributionJob{
		IdempotencyKey: DistributionKey(campaign.ID, lead.ID, lead.StepIndex),
		CampaignID:     campaign.ID,
		LeadID:         lead.ID,
		Channel:        campaign.Channel,
		StepIndex:      lead.StepIndex,
		Status:         DistributionJobQueued,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DistributionPayload is the action payload for a distribution_send action
type DistributionPayload struct {
	JobKey     string `json:"job_key" validate:"required"`
	CampaignID int64  `json:"campaign_id" validate:"required"`
	LeadID     int64  `json:"lead_id" validate:"required"`
	Channel    string `json:"channel" validate:"required"`
	StepIndex  int    `json:"step_index" validate:"gte=0"`
	Email      string `json:"email" validate:"required,email"`
}
