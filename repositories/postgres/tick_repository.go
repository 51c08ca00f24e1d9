package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// TickRepository implements the repositories.TickRepository interface
type TickRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTickRepository creates a new tick ledger repository
func NewTickRepository(db *DB, logger *zap.Logger) repositories.TickRepository {
	return &TickRepository{
		db:     db,
		logger: logger,
	}
}

const tickColumns = `id, holder, started_at, finished_at, status, actions_attempted, actions_succeeded, notes`

// Insert appends a tick entry
func (r *TickRepository) Insert(ctx context.Context, entry *models.TickEntry) error {
	query := `
		INSERT INTO tick_ledger (
			holder, started_at, finished_at, status, actions_attempted, actions_succeeded, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		entry.Holder,
		entry.StartedAt,
		entry.FinishedAt,
		entry.Status,
		entry.ActionsAttempted,
		entry.ActionsSucceeded,
		entry.Notes,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert tick entry: %w", err)
	}
	return nil
}

// Latest returns the most recent tick entry
func (r *TickRepository) Latest(ctx context.Context) (*models.TickEntry, error) {
	query := `SELECT ` + tickColumns + ` FROM tick_ledger ORDER BY id DESC LIMIT 1`

	executor := GetExecutor(ctx, r.db)
	entry, err := scanTick(executor.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no ticks recorded: %w", repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest tick: %w", err)
	}
	return entry, nil
}

// List returns recent tick entries, newest first
func (r *TickRepository) List(ctx context.Context, limit, offset int) ([]*models.TickEntry, error) {
	query := `SELECT ` + tickColumns + ` FROM tick_ledger ORDER BY id DESC LIMIT $1 OFFSET $2`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticks: %w", err)
	}
	defer rows.Close()

	var entries []*models.TickEntry
	for rows.Next() {
		entry, err := scanTick(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticks: %w", err)
	}
	return entries, nil
}

func scanTick(row rowScanner) (*models.TickEntry, error) {
	var entry models.TickEntry
	err := row.Scan(
		&entry.ID,
		&entry.Holder,
		&entry.StartedAt,
		&entry.FinishedAt,
		&entry.Status,
		&entry.ActionsAttempted,
		&entry.ActionsSucceeded,
		&entry.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
