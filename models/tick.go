package models

import "time"

// TickStatus is the outcome recorded for one scheduler tick
type TickStatus string

const (
	TickStatusCompleted TickStatus = "COMPLETED"
	TickStatusIdle      TickStatus = "IDLE"
	TickStatusSkipped   TickStatus = "SKIPPED" // lease held elsewhere
	TickStatusPaused    TickStatus = "PAUSED"
	TickStatusKilled    TickStatus = "KILLED"
	TickStatusAborted   TickStatus = "ABORTED" // lease lost mid-batch
	TickStatusFailed    TickStatus = "FAILED"
)

// TickEntry is one append-only tick ledger row
type TickEntry struct {
	ID               int64      `json:"id" db:"id"`
	Holder           string     `json:"holder" db:"holder"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	FinishedAt       time.Time  `json:"finished_at" db:"finished_at"`
	Status           TickStatus `json:"status" db:"status"`
	ActionsAttempted int        `json:"actions_attempted" db:"actions_attempted"`
	ActionsSucceeded int        `json:"actions_succeeded" db:"actions_succeeded"`
	Notes            string     `json:"notes" db:"notes"`
}

// TableName returns the table name for the TickEntry model
func (TickEntry) TableName() string {
	return "tick_ledger"
}
