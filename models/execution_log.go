package models

import "time"

// LogLevel is the severity of an execution log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// ExecutionLog is an append-only per-action trace entry.
// ActionID is a soft reference: action rows may be pruned independently.
type ExecutionLog struct {
	ID             int64     `json:"id" db:"id"`
	ActionID       int64     `json:"action_id" db:"action_id"`
	Timestamp      time.Time `json:"ts" db:"ts"`
	Level          LogLevel  `json:"level" db:"level"`
	Message        string    `json:"message" db:"message"`
	ArtifactRef    *string   `json:"artifact_ref,omitempty" db:"artifact_ref"`
	ArtifactSHA256 *string   `json:"artifact_sha256,omitempty" db:"artifact_sha256"`
}

// TableName returns the table name for the ExecutionLog model
func (ExecutionLog) TableName() string {
	return "execution_logs"
}

// NewExecutionLog creates a new ExecutionLog entry stamped now
func NewExecutionLog(actionID int64, level LogLevel, message string) *ExecutionLog {
	return &ExecutionLog{
		ActionID:  actionID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}
}

// WithArtifact sets the artifact reference and digest
func (l *ExecutionLog) WithArtifact(ref, sha256 string) *ExecutionLog {
	if ref != "" {
		l.ArtifactRef = &ref
	}
	if sha256 != "" {
		l.ArtifactSHA256 = &sha256
	}
	return l
}
