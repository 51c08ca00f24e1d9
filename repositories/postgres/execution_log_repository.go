package postgres

import (
	"context"
	"fmt"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// ExecutionLogRepository implements the repositories.ExecutionLogRepository interface
type ExecutionLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExecutionLogRepository creates a new execution log repository
func NewExecutionLogRepository(db *DB, logger *zap.Logger) repositories.ExecutionLogRepository {
	return &ExecutionLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a log entry
func (r *ExecutionLogRepository) Insert(ctx context.Context, entry *models.ExecutionLog) error {
	query := `
		INSERT INTO execution_logs (action_id, ts, level, message, artifact_ref, artifact_sha256)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		entry.ActionID,
		entry.Timestamp,
		entry.Level,
		entry.Message,
		entry.ArtifactRef,
		entry.ArtifactSHA256,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}
	return nil
}

// ListByAction returns entries for an action in insertion order
func (r *ExecutionLogRepository) ListByAction(ctx context.Context, actionID int64) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, action_id, ts, level, message, artifact_ref, artifact_sha256
		FROM execution_logs
		WHERE action_id = $1
		ORDER BY id
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ExecutionLog
	for rows.Next() {
		var entry models.ExecutionLog
		if err := rows.Scan(
			&entry.ID,
			&entry.ActionID,
			&entry.Timestamp,
			&entry.Level,
			&entry.Message,
			&entry.ArtifactRef,
			&entry.ArtifactSHA256,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}
	return entries, nil
}
