package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// ActionRepository implements the repositories.ActionRepository interface
type ActionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewActionRepository creates a new action repository
func NewActionRepository(db *DB, logger *zap.Logger) repositories.ActionRepository {
	return &ActionRepository{
		db:     db,
		logger: logger,
	}
}

const actionColumns = `id, idempotency_key, action_type, payload, status, not_before, attempts, max_attempts,
	last_error, claimed_by, claimed_at, completed_at, created_at, updated_at`

// Insert inserts the action unless its idempotency key exists
func (r *ActionRepository) Insert(ctx context.Context, action *models.Action) (bool, *models.Action, error) {
	query := `
		INSERT INTO actions (
			idempotency_key, action_type, payload, status, not_before,
			attempts, max_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		action.IdempotencyKey,
		action.ActionType,
		string(action.Payload),
		models.ActionStatusPending,
		action.NotBefore,
		action.MaxAttempts,
		action.CreatedAt,
	).Scan(&action.ID)

	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetByKey(ctx, action.IdempotencyKey)
		if getErr != nil {
			return false, nil, getErr
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert action: %w", err)
	}

	action.Status = models.ActionStatusPending
	r.logger.Debug("action enqueued",
		zap.Int64("id", action.ID),
		zap.String("key", action.IdempotencyKey),
		zap.String("type", string(action.ActionType)),
	)
	return true, action, nil
}

// GetByID retrieves an action by ID
func (r *ActionRepository) GetByID(ctx context.Context, id int64) (*models.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	action, err := scanAction(executor.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %d: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

// GetByKey retrieves an action by idempotency key
func (r *ActionRepository) GetByKey(ctx context.Context, key string) (*models.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE idempotency_key = $1`

	executor := GetExecutor(ctx, r.db)
	action, err := scanAction(executor.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %q: %w", key, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action by key: %w", err)
	}
	return action, nil
}

// ClaimDue moves up to limit due actions to RUNNING in one statement.
// SKIP LOCKED keeps concurrent claimers from blocking on or double-claiming a row.
func (r *ActionRepository) ClaimDue(ctx context.Context, holder string, now time.Time, limit int) ([]*models.Action, error) {
	query := `
		UPDATE actions
		SET status = 'RUNNING', claimed_by = $1, claimed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM actions
			WHERE status IN ('PENDING', 'FAILED') AND not_before <= $2
			ORDER BY not_before, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + actionColumns

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, holder, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim actions: %w", err)
	}
	defer rows.Close()

	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].NotBefore.Equal(actions[j].NotBefore) {
			return actions[i].NotBefore.Before(actions[j].NotBefore)
		}
		return actions[i].ID < actions[j].ID
	})
	return actions, nil
}

// MarkDone transitions a RUNNING action to DONE
func (r *ActionRepository) MarkDone(ctx context.Context, id int64, now time.Time) error {
	query := `
		UPDATE actions
		SET status = 'DONE', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'RUNNING'
	`
	return r.execTransition(ctx, "complete", id, query, id, now)
}

// MarkFailed records a failed attempt and releases the claim
func (r *ActionRepository) MarkFailed(ctx context.Context, id int64, status models.ActionStatus, attempts int, notBefore time.Time, lastError string, now time.Time) error {
	query := `
		UPDATE actions
		SET status = $2, attempts = $3, not_before = $4, last_error = $5,
		    claimed_by = NULL, claimed_at = NULL, updated_at = $6
		WHERE id = $1 AND status = 'RUNNING'
	`
	return r.execTransition(ctx, "fail", id, query, id, status, attempts, notBefore, lastError, now)
}

// Release returns a RUNNING action to PENDING, keeping attempts and not_before
func (r *ActionRepository) Release(ctx context.Context, id int64, now time.Time) error {
	query := `
		UPDATE actions
		SET status = 'PENDING', claimed_by = NULL, claimed_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'RUNNING'
	`
	return r.execTransition(ctx, "release", id, query, id, now)
}

// ReleaseUntil returns a RUNNING action to PENDING and pushes not_before out
func (r *ActionRepository) ReleaseUntil(ctx context.Context, id int64, notBefore, now time.Time) error {
	query := `
		UPDATE actions
		SET status = 'PENDING', claimed_by = NULL, claimed_at = NULL, not_before = $2, updated_at = $3
		WHERE id = $1 AND status = 'RUNNING'
	`
	return r.execTransition(ctx, "release", id, query, id, notBefore, now)
}

// Rearm resets a FAILED or DLQ action to PENDING with zero attempts
func (r *ActionRepository) Rearm(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE actions
		SET status = 'PENDING', attempts = 0, not_before = $2, last_error = NULL,
		    claimed_by = NULL, claimed_at = NULL, updated_at = $2
		WHERE id = $1 AND status IN ('FAILED', 'DLQ')
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to rearm action: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ListStaleRunning lists RUNNING actions claimed before claimedBefore
func (r *ActionRepository) ListStaleRunning(ctx context.Context, claimedBefore time.Time, limit int) ([]*models.Action, error) {
	query := `SELECT ` + actionColumns + `
		FROM actions
		WHERE status = 'RUNNING' AND claimed_at < $1
		ORDER BY claimed_at, id
		LIMIT $2`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, claimedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// ListByStatus retrieves actions by status with pagination
func (r *ActionRepository) ListByStatus(ctx context.Context, status models.ActionStatus, limit, offset int) ([]*models.Action, error) {
	query := `SELECT ` + actionColumns + `
		FROM actions
		WHERE status = $1
		ORDER BY not_before, id
		LIMIT $2 OFFSET $3`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// CountByStatus returns queue depth per status bucket
func (r *ActionRepository) CountByStatus(ctx context.Context) (*models.QueueDepth, error) {
	query := `SELECT status, COUNT(*) FROM actions GROUP BY status`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	defer rows.Close()

	depth := &models.QueueDepth{}
	for rows.Next() {
		var status models.ActionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		switch status {
		case models.ActionStatusPending:
			depth.Pending = count
		case models.ActionStatusRunning:
			depth.Running = count
		case models.ActionStatusFailed:
			depth.Retry = count
		case models.ActionStatusDLQ:
			depth.DLQ = count
		case models.ActionStatusDone:
			depth.Done = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action counts: %w", err)
	}
	return depth, nil
}

func (r *ActionRepository) execTransition(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s action: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s action %d: %w", op, id, repositories.ErrStateConflict)
	}
	return nil
}

func scanAction(row rowScanner) (*models.Action, error) {
	var action models.Action
	var payload []byte
	err := row.Scan(
		&action.ID,
		&action.IdempotencyKey,
		&action.ActionType,
		&payload,
		&action.Status,
		&action.NotBefore,
		&action.Attempts,
		&action.MaxAttempts,
		&action.LastError,
		&action.ClaimedBy,
		&action.ClaimedAt,
		&action.CompletedAt,
		&action.CreatedAt,
		&action.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	action.Payload = payload
	return &action, nil
}

func scanActions(rows *sql.Rows) ([]*models.Action, error) {
	var actions []*models.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}
