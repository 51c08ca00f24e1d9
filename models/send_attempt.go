package models

import "time"

// SendAttempt is a Proof-Run Ledger row: every real or simulated external send
type SendAttempt struct {
	ID            int64     `json:"id" db:"id"`
	ActionID      *int64    `json:"action_id,omitempty" db:"action_id"`
	Channel       string    `json:"channel" db:"channel"`
	Destination   string    `json:"destination" db:"destination"`
	Summary       string    `json:"summary" db:"summary"`
	ActuallySent  bool      `json:"actually_sent" db:"actually_sent"`
	BlockedReason *string   `json:"blocked_reason,omitempty" db:"blocked_reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the SendAttempt model
func (SendAttempt) TableName() string {
	return "send_attempts"
}

// ProofSummary aggregates the ledger since a point in time
type ProofSummary struct {
	Since             time.Time `json:"since"`
	Attempted         int       `json:"attempted"`
	ExternalSendCount int       `json:"external_send_count"`
	Blocked           int       `json:"blocked"`
}

// ChannelQuotaUsage is the daily send counter for one channel
type ChannelQuotaUsage struct {
	Channel string    `json:"channel" db:"channel"`
	Day     time.Time `json:"day" db:"day"`
	Sent    int       `json:"sent" db:"sent"`
}

// TableName returns the table name for the ChannelQuotaUsage model
func (ChannelQuotaUsage) TableName() string {
	return "channel_quota_usage"
}
