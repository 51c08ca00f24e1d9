package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// LeaseRepository implements the repositories.LeaseRepository interface
type LeaseRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLeaseRepository creates a new lease repository
func NewLeaseRepository(db *DB, logger *zap.Logger) repositories.LeaseRepository {
	return &LeaseRepository{
		db:     db,
		logger: logger,
	}
}

// TryAcquire is a single conditional upsert: the insert wins on a free owner,
// the update wins only over an expired row. Concurrent callers resolve to one winner.
func (r *LeaseRepository) TryAcquire(ctx context.Context, lease *models.Lease) (bool, error) {
	query := `
		INSERT INTO leases (owner, holder, token, acquired_at, renewed_at, expires_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (owner) DO UPDATE
		SET holder = EXCLUDED.holder,
		    token = EXCLUDED.token,
		    acquired_at = EXCLUDED.acquired_at,
		    renewed_at = EXCLUDED.renewed_at,
		    expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at <= $4
		RETURNING token
	`

	executor := GetExecutor(ctx, r.db)
	var token uuid.UUID
	err := executor.QueryRowContext(ctx, query,
		lease.Owner,
		lease.Holder,
		lease.Token,
		lease.AcquiredAt,
		lease.ExpiresAt,
	).Scan(&token)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	r.logger.Debug("lease acquired",
		zap.String("owner", lease.Owner),
		zap.String("holder", lease.Holder),
		zap.Time("expires_at", lease.ExpiresAt),
	)
	return token == lease.Token, nil
}

// Renew extends a live lease whose token still matches
func (r *LeaseRepository) Renew(ctx context.Context, owner string, token uuid.UUID, now, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE leases
		SET renewed_at = $3, expires_at = $4
		WHERE owner = $1 AND token = $2 AND expires_at > $3
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, owner, token, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Release deletes the caller's own lease row
func (r *LeaseRepository) Release(ctx context.Context, owner string, token uuid.UUID) error {
	query := `DELETE FROM leases WHERE owner = $1 AND token = $2`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, owner, token); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	r.logger.Debug("lease released", zap.String("owner", owner))
	return nil
}

// Get returns the current lease row for owner
func (r *LeaseRepository) Get(ctx context.Context, owner string) (*models.Lease, error) {
	query := `
		SELECT owner, holder, token, acquired_at, renewed_at, expires_at
		FROM leases
		WHERE owner = $1
	`

	var lease models.Lease
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, owner).Scan(
		&lease.Owner,
		&lease.Holder,
		&lease.Token,
		&lease.AcquiredAt,
		&lease.RenewedAt,
		&lease.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lease %s: %w", owner, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return &lease, nil
}
