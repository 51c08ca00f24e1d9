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

// CampaignRepository implements the repositories.CampaignRepository interface
type CampaignRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *DB, logger *zap.Logger) repositories.CampaignRepository {
	return &CampaignRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT id, name, channel, status, max_steps FROM campaigns WHERE id = $1`

	var c models.Campaign
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Channel, &c.Status, &c.MaxSteps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &c, nil
}

// ListActive retrieves all ACTIVE campaigns
func (r *CampaignRepository) ListActive(ctx context.Context) ([]*models.Campaign, error) {
	query := `SELECT id, name, channel, status, max_steps FROM campaigns WHERE status = $1 ORDER BY id`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, models.CampaignStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Channel, &c.Status, &c.MaxSteps); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}
	return campaigns, nil
}

// LeadRepository implements the repositories.LeadRepository interface
type LeadRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *DB, logger *zap.Logger) repositories.LeadRepository {
	return &LeadRepository{
		db:     db,
		logger: logger,
	}
}

// ListEligible returns leads due for their next step, oldest due first
func (r *LeadRepository) ListEligible(ctx context.Context, campaignID int64, now time.Time, maxSteps, limit int) ([]*models.Lead, error) {
	query := `
		SELECT id, campaign_id, email, identity_hash, status, consent_status,
		       step_index, next_action_at, stop_follow_up
		FROM leads
		WHERE campaign_id = $1
		  AND status IN ('ENRICHED', 'CONTACTED')
		  AND next_action_at IS NOT NULL
		  AND next_action_at <= $2
		  AND stop_follow_up = false
		  AND step_index < $3
		ORDER BY next_action_at, id
		LIMIT $4
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, campaignID, now, maxSteps, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible leads: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(
			&l.ID,
			&l.CampaignID,
			&l.Email,
			&l.IdentityHash,
			&l.Status,
			&l.ConsentStatus,
			&l.StepIndex,
			&l.NextActionAt,
			&l.StopFollowUp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}
	return leads, nil
}

// SuppressionRepository implements the repositories.SuppressionRepository interface
type SuppressionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSuppressionRepository creates a new suppression repository
func NewSuppressionRepository(db *DB, logger *zap.Logger) repositories.SuppressionRepository {
	return &SuppressionRepository{
		db:     db,
		logger: logger,
	}
}

// IsSuppressed reports whether an active suppression matches email, domain or identity hash.
// Empty values never match.
func (r *SuppressionRepository) IsSuppressed(ctx context.Context, email, domain, identityHash string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE active
			  AND (
			    (kind = 'email' AND $1 <> '' AND lower(value) = $1)
			    OR (kind = 'domain' AND $2 <> '' AND lower(value) = $2)
			    OR (kind = 'identity_hash' AND $3 <> '' AND value = $3)
			  )
		)
	`

	var exists bool
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, email, domain, identityHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check suppressions: %w", err)
	}
	return exists, nil
}

// IsUnsubscribed reports whether an active unsubscribe matches email or identity hash
func (r *SuppressionRepository) IsUnsubscribed(ctx context.Context, email, identityHash string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM unsubscribes
			WHERE active
			  AND (
			    ($1 <> '' AND lower(email) = $1)
			    OR ($2 <> '' AND identity_hash = $2)
			  )
		)
	`

	var exists bool
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, email, identityHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check unsubscribes: %w", err)
	}
	return exists, nil
}
