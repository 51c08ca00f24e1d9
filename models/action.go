package models

import (
	"encoding/json"
	"time"
)

// ActionStatus represents the lifecycle state of a queued action
type ActionStatus string

const (
	ActionStatusPending ActionStatus = "PENDING"
	ActionStatusRunning ActionStatus = "RUNNING"
	ActionStatusDone    ActionStatus = "DONE"
	ActionStatusFailed  ActionStatus = "FAILED" // retry scheduled at NotBefore
	ActionStatusDLQ     ActionStatus = "DLQ"
)

// IsTerminal reports whether no further transition happens without operator intervention
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusDone || s == ActionStatusDLQ
}

// ActionType identifies the handler an action is dispatched to
type ActionType string

const (
	ActionTypeDistributionSend ActionType = "distribution_send"
	ActionTypeOutreachEmail    ActionType = "outreach_email"
	ActionTypeNoopProbe        ActionType = "noop_probe"
)

// KnownActionTypes is the closed set of action types the dispatcher accepts
var KnownActionTypes = []ActionType{
	ActionTypeDistributionSend,
	ActionTypeOutreachEmail,
	ActionTypeNoopProbe,
}

// Action is a durable, idempotent side-effecting unit of work
type Action struct {
	ID             int64           `json:"id" db:"id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	ActionType     ActionType      `json:"action_type" db:"action_type"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Status         ActionStatus    `json:"status" db:"status"`
	NotBefore      time.Time       `json:"not_before" db:"not_before"`
	Attempts       int             `json:"attempts" db:"attempts"`
	MaxAttempts    int             `json:"max_attempts" db:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty" db:"last_error"`
	ClaimedBy      *string         `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Action model
func (Action) TableName() string {
	return "actions"
}

// NewAction creates a new pending action
func NewAction(key string, actionType ActionType, payload json.RawMessage, notBefore time.Time, maxAttempts int) *Action {
	now := time.Now().UTC()
	if notBefore.IsZero() {
		notBefore = now
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return &Action{
		IdempotencyKey: key,
		ActionType:     actionType,
		Payload:        payload,
		Status:         ActionStatusPending,
		NotBefore:      notBefore.UTC(),
		MaxAttempts:    maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// QueueDepth counts actions per status bucket for operators
type QueueDepth struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Retry   int `json:"retry"`
	DLQ     int `json:"dlq"`
	Done    int `json:"done"`
}
