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

// CampaignRunRepository implements the repositories.CampaignRunRepository interface
type CampaignRunRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCampaignRunRepository creates a new campaign run repository
func NewCampaignRunRepository(db *DB, logger *zap.Logger) repositories.CampaignRunRepository {
	return &CampaignRunRepository{
		db:     db,
		logger: logger,
	}
}

const runColumns = `id, campaign_id, status, claimed_by, lease_expires_at, heartbeat_at,
	leads_processed, jobs_created, attempts_succeeded, attempts_failed, last_error, started_at, completed_at`

// Create inserts a run row
func (r *CampaignRunRepository) Create(ctx context.Context, run *models.CampaignOrchestratorRun) error {
	query := `
		INSERT INTO campaign_orchestrator_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		run.ID,
		run.CampaignID,
		run.Status,
		run.ClaimedBy,
		run.LeaseExpiresAt,
		run.HeartbeatAt,
		run.LeadsProcessed,
		run.JobsCreated,
		run.AttemptsSucceeded,
		run.AttemptsFailed,
		run.LastError,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign run: %w", err)
	}

	r.logger.Debug("campaign run created",
		zap.String("id", run.ID.String()),
		zap.Int64("campaign_id", run.CampaignID),
	)
	return nil
}

// Update persists counters, heartbeat and status
func (r *CampaignRunRepository) Update(ctx context.Context, run *models.CampaignOrchestratorRun) error {
	query := `
		UPDATE campaign_orchestrator_runs
		SET status = $2, lease_expires_at = $3, heartbeat_at = $4,
		    leads_processed = $5, jobs_created = $6, attempts_succeeded = $7,
		    attempts_failed = $8, last_error = $9, completed_at = $10
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.LeaseExpiresAt,
		run.HeartbeatAt,
		run.LeadsProcessed,
		run.JobsCreated,
		run.AttemptsSucceeded,
		run.AttemptsFailed,
		run.LastError,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("campaign run %s: %w", run.ID, repositories.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *CampaignRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CampaignOrchestratorRun, error) {
	query := `SELECT ` + runColumns + ` FROM campaign_orchestrator_runs WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	run, err := scanRun(executor.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign run %s: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign run: %w", err)
	}
	return run, nil
}

// ListByCampaign returns runs for a campaign, newest first
func (r *CampaignRunRepository) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignOrchestratorRun, error) {
	query := `SELECT ` + runColumns + `
		FROM campaign_orchestrator_runs
		WHERE campaign_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.CampaignOrchestratorRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (*models.CampaignOrchestratorRun, error) {
	var run models.CampaignOrchestratorRun
	err := row.Scan(
		&run.ID,
		&run.CampaignID,
		&run.Status,
		&run.ClaimedBy,
		&run.LeaseExpiresAt,
		&run.HeartbeatAt,
		&run.LeadsProcessed,
		&run.JobsCreated,
		&run.AttemptsSucceeded,
		&run.AttemptsFailed,
		&run.LastError,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// DistributionJobRepository implements the repositories.DistributionJobRepository interface
type DistributionJobRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDistributionJobRepository creates a new distribution job repository
func NewDistributionJobRepository(db *DB, logger *zap.Logger) repositories.DistributionJobRepository {
	return &DistributionJobRepository{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, idempotency_key, campaign_id, lead_id, channel, step_index, status,
	retry_count, max_retries, next_retry_at, last_error, created_at, updated_at`

// Insert inserts the job unless its idempotency key exists
func (r *DistributionJobRepository) Insert(ctx context.Context, job *models.DistributionJob) (bool, error) {
	query := `
		INSERT INTO distribution_jobs (
			idempotency_key, campaign_id, lead_id, channel, step_index, status,
			retry_count, max_retries, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		job.IdempotencyKey,
		job.CampaignID,
		job.LeadID,
		job.Channel,
		job.StepIndex,
		job.Status,
		job.MaxRetries,
		job.CreatedAt,
	).Scan(&job.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert distribution job: %w", err)
	}
	return true, nil
}

// GetByKey retrieves a job by idempotency key
func (r *DistributionJobRepository) GetByKey(ctx context.Context, key string) (*models.DistributionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM distribution_jobs WHERE idempotency_key = $1`

	var job models.DistributionJob
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, key).Scan(
		&job.ID,
		&job.IdempotencyKey,
		&job.CampaignID,
		&job.LeadID,
		&job.Channel,
		&job.StepIndex,
		&job.Status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.NextRetryAt,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("distribution job %q: %w", key, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution job: %w", err)
	}
	return &job, nil
}

// MarkSent records a successful delivery
func (r *DistributionJobRepository) MarkSent(ctx context.Context, key string, now time.Time) error {
	query := `
		UPDATE distribution_jobs
		SET status = 'SENT', next_retry_at = NULL, last_error = NULL, updated_at = $2
		WHERE idempotency_key = $1
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, key, now); err != nil {
		return fmt.Errorf("failed to mark distribution job sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt. A nil nextRetryAt means no further retry.
func (r *DistributionJobRepository) MarkFailed(ctx context.Context, key string, lastError string, nextRetryAt *time.Time, now time.Time) error {
	query := `
		UPDATE distribution_jobs
		SET status = CASE WHEN $3::timestamptz IS NULL THEN 'FAILED' ELSE 'QUEUED' END,
		    retry_count = retry_count + 1,
		    next_retry_at = $3,
		    last_error = $2,
		    updated_at = $4
		WHERE idempotency_key = $1
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, key, lastError, nextRetryAt, now); err != nil {
		return fmt.Errorf("failed to mark distribution job failed: %w", err)
	}
	return nil
}
