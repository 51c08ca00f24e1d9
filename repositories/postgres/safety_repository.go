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

// QuotaRepository implements the repositories.QuotaRepository interface
type QuotaRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewQuotaRepository creates a new channel quota repository
func NewQuotaRepository(db *DB, logger *zap.Logger) repositories.QuotaRepository {
	return &QuotaRepository{
		db:     db,
		logger: logger,
	}
}

// dayKey formats the UTC calendar date used as the counter key
func dayKey(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}

// SentOn returns the number of sends recorded for channel on day
func (r *QuotaRepository) SentOn(ctx context.Context, channel string, day time.Time) (int, error) {
	query := `SELECT sent FROM channel_quota_usage WHERE channel = $1 AND day = $2::date`

	var sent int
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, channel, dayKey(day)).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read channel quota: %w", err)
	}
	return sent, nil
}

// Increment atomically adds one send and returns the new count
func (r *QuotaRepository) Increment(ctx context.Context, channel string, day time.Time) (int, error) {
	query := `
		INSERT INTO channel_quota_usage (channel, day, sent)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (channel, day)
		DO UPDATE SET sent = channel_quota_usage.sent + 1
		RETURNING sent
	`

	var sent int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, channel, dayKey(day)).Scan(&sent); err != nil {
		return 0, fmt.Errorf("failed to increment channel quota: %w", err)
	}

	r.logger.Debug("channel quota incremented",
		zap.String("channel", channel),
		zap.String("day", dayKey(day)),
		zap.Int("sent", sent),
	)
	return sent, nil
}

// SendAttemptRepository implements the repositories.SendAttemptRepository interface
type SendAttemptRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSendAttemptRepository creates a new proof-run ledger repository
func NewSendAttemptRepository(db *DB, logger *zap.Logger) repositories.SendAttemptRepository {
	return &SendAttemptRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a send attempt
func (r *SendAttemptRepository) Insert(ctx context.Context, attempt *models.SendAttempt) error {
	query := `
		INSERT INTO send_attempts (
			action_id, channel, destination, summary, actually_sent, blocked_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		attempt.ActionID,
		attempt.Channel,
		attempt.Destination,
		attempt.Summary,
		attempt.ActuallySent,
		attempt.BlockedReason,
		attempt.CreatedAt,
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("failed to insert send attempt: %w", err)
	}
	return nil
}

// Summary aggregates attempts created at or after since
func (r *SendAttemptRepository) Summary(ctx context.Context, since time.Time) (*models.ProofSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE actually_sent),
			COUNT(*) FILTER (WHERE blocked_reason IS NOT NULL)
		FROM send_attempts
		WHERE created_at >= $1
	`

	summary := &models.ProofSummary{Since: since}
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, since).Scan(
		&summary.Attempted,
		&summary.ExternalSendCount,
		&summary.Blocked,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize send attempts: %w", err)
	}
	return summary, nil
}
