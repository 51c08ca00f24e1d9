package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// ControlFlagRepository implements the repositories.ControlFlagRepository interface
type ControlFlagRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewControlFlagRepository creates a new control flag repository
func NewControlFlagRepository(db *DB, logger *zap.Logger) repositories.ControlFlagRepository {
	return &ControlFlagRepository{
		db:     db,
		logger: logger,
	}
}

const selectControlFlags = `
	SELECT paused, killed, proof_mode, version, updated_by, updated_at
	FROM control_flags
	WHERE id = $1
`

// Get reads the current flags. Never cached.
func (r *ControlFlagRepository) Get(ctx context.Context) (*models.ControlFlags, error) {
	executor := GetExecutor(ctx, r.db)
	flags, err := scanControlFlags(executor.QueryRowContext(ctx, selectControlFlags, models.ControlFlagsID))
	if err != nil {
		return nil, err
	}
	return flags, nil
}

// Update locks the singleton row, applies fn and persists the result with version+1
func (r *ControlFlagRepository) Update(ctx context.Context, actor string, fn func(flags *models.ControlFlags) error) (*models.ControlFlags, error) {
	var updated *models.ControlFlags

	err := runInTx(ctx, r.db, func(exec Executor) error {
		current, err := scanControlFlags(exec.QueryRowContext(ctx, selectControlFlags+" FOR UPDATE", models.ControlFlagsID))
		if err != nil {
			return err
		}

		if err := fn(current); err != nil {
			return err
		}

		query := `
			UPDATE control_flags
			SET paused = $2, killed = $3, proof_mode = $4,
			    version = version + 1, updated_by = $5, updated_at = $6
			WHERE id = $1
			RETURNING version, updated_at
		`
		current.UpdatedBy = actor
		err = exec.QueryRowContext(ctx, query,
			models.ControlFlagsID,
			current.Paused,
			current.Killed,
			current.ProofMode,
			actor,
			time.Now().UTC(),
		).Scan(&current.Version, &current.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update control flags: %w", err)
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("control flags updated",
		zap.String("actor", actor),
		zap.Bool("paused", updated.Paused),
		zap.Bool("killed", updated.Killed),
		zap.Bool("proof_mode", updated.ProofMode),
		zap.Int64("version", updated.Version),
	)
	return updated, nil
}

func scanControlFlags(row rowScanner) (*models.ControlFlags, error) {
	var flags models.ControlFlags
	err := row.Scan(
		&flags.Paused,
		&flags.Killed,
		&flags.ProofMode,
		&flags.Version,
		&flags.UpdatedBy,
		&flags.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("control flags row missing (run migrations): %w", repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read control flags: %w", err)
	}
	return &flags, nil
}
