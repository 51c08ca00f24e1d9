package models

import "time"

// ControlFlagsID is the primary key of the singleton control flags row
const ControlFlagsID = 1

// ControlFlags holds the process-wide safety switches read before every tick
type ControlFlags struct {
	Paused    bool      `json:"paused" db:"paused"`
	Killed    bool      `json:"killed" db:"killed"`
	ProofMode bool      `json:"proof_mode" db:"proof_mode"`
	Version   int64     `json:"version" db:"version"`
	UpdatedBy string    `json:"updated_by" db:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the ControlFlags model
func (ControlFlags) TableName() string {
	return "control_flags"
}

// CanExecute reports whether the flags allow actions to be claimed
func (f *ControlFlags) CanExecute() bool {
	return !f.Killed && !f.Paused
}
