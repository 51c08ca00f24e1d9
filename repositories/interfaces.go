package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/autonomy-orchestrator/models"
)

// ErrNotFound is returned when a row addressed by key does not exist
var ErrNotFound = errors.New("not found")

// ErrStateConflict is returned when a conditional transition matched no row in the expected state
var ErrStateConflict = errors.New("row not in expected state")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// ControlFlagRepository reads and mutates the singleton control flags row
type ControlFlagRepository interface {
	// Get reads the current flags
	Get(ctx context.Context) (*models.ControlFlags, error)

	// Update applies fn to the locked row and persists the result, bumping the version
	Update(ctx context.Context, actor string, fn func(flags *models.ControlFlags) error) (*models.ControlFlags, error)
}

// LeaseRepository implements the conditional lease primitives
type LeaseRepository interface {
	// TryAcquire inserts the lease, or takes it over when the existing row has expired.
	// Returns false when a live lease is held by someone else.
	TryAcquire(ctx context.Context, lease *models.Lease) (bool, error)

	// Renew extends the lease if token still matches and the lease has not expired at now.
	// Returns false when the lease was lost.
	Renew(ctx context.Context, owner string, token uuid.UUID, now, expiresAt time.Time) (bool, error)

	// Release deletes the lease if token still matches
	Release(ctx context.Context, owner string, token uuid.UUID) error

	// Get returns the current lease row for owner
	Get(ctx context.Context, owner string) (*models.Lease, error)
}

// ActionRepository persists the action queue
type ActionRepository interface {
	// Insert inserts the action unless its idempotency key exists.
	// Returns false with the existing row when the key is already present.
	Insert(ctx context.Context, action *models.Action) (bool, *models.Action, error)

	// GetByID retrieves an action by ID
	GetByID(ctx context.Context, id int64) (*models.Action, error)

	// GetByKey retrieves an action by idempotency key
	GetByKey(ctx context.Context, key string) (*models.Action, error)

	// ClaimDue atomically moves up to limit due PENDING/FAILED actions to RUNNING
	ClaimDue(ctx context.Context, holder string, now time.Time, limit int) ([]*models.Action, error)

	// MarkDone transitions a RUNNING action to DONE
	MarkDone(ctx context.Context, id int64, now time.Time) error

	// MarkFailed records a failed attempt: status FAILED (with notBefore) or DLQ
	MarkFailed(ctx context.Context, id int64, status models.ActionStatus, attempts int, notBefore time.Time, lastError string, now time.Time) error

	// Release returns a RUNNING action to PENDING without consuming an attempt
	Release(ctx context.Context, id int64, now time.Time) error

	// ReleaseUntil returns a RUNNING action to PENDING due at notBefore,
	// without consuming an attempt
	ReleaseUntil(ctx context.Context, id int64, notBefore, now time.Time) error

	// Rearm resets a FAILED/DLQ action to PENDING with zero attempts
	Rearm(ctx context.Context, id int64, now time.Time) (bool, error)

	// ListStaleRunning lists RUNNING actions claimed before claimedBefore
	ListStaleRunning(ctx context.Context, claimedBefore time.Time, limit int) ([]*models.Action, error)

	// ListByStatus retrieves actions by status with pagination
	ListByStatus(ctx context.Context, status models.ActionStatus, limit, offset int) ([]*models.Action, error)

	// CountByStatus returns queue depth per status bucket
	CountByStatus(ctx context.Context) (*models.QueueDepth, error)
}

// TickRepository appends to the tick ledger
type TickRepository interface {
	// Insert appends a tick entry
	Insert(ctx context.Context, entry *models.TickEntry) error

	// Latest returns the most recent tick entry, or ErrNotFound
	Latest(ctx context.Context) (*models.TickEntry, error)

	// List returns recent tick entries, newest first
	List(ctx context.Context, limit, offset int) ([]*models.TickEntry, error)
}

// ExecutionLogRepository appends per-action trace entries
type ExecutionLogRepository interface {
	// Insert appends a log entry
	Insert(ctx context.Context, entry *models.ExecutionLog) error

	// ListByAction returns entries for an action in insertion order
	ListByAction(ctx context.Context, actionID int64) ([]*models.ExecutionLog, error)
}

// CampaignRepository reads campaigns owned by the campaign CRUD module
type CampaignRepository interface {
	// GetByID retrieves a campaign by ID
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)

	// ListActive retrieves all ACTIVE campaigns
	ListActive(ctx context.Context) ([]*models.Campaign, error)
}

// LeadRepository reads leads owned by the lead lifecycle module
type LeadRepository interface {
	// ListEligible returns leads of a campaign due for their next pipeline step
	ListEligible(ctx context.Context, campaignID int64, now time.Time, maxSteps, limit int) ([]*models.Lead, error)
}

// SuppressionRepository answers deny-list lookups
type SuppressionRepository interface {
	// IsSuppressed reports whether an active suppression matches any of the values
	IsSuppressed(ctx context.Context, email, domain, identityHash string) (bool, error)

	// IsUnsubscribed reports whether an active unsubscribe matches email or identity hash
	IsUnsubscribed(ctx context.Context, email, identityHash string) (bool, error)
}

// CampaignRunRepository persists campaign orchestrator runs
type CampaignRunRepository interface {
	// Create inserts a run row
	Create(ctx context.Context, run *models.CampaignOrchestratorRun) error

	// Update persists counters, heartbeat and status
	Update(ctx context.Context, run *models.CampaignOrchestratorRun) error

	// GetByID retrieves a run by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.CampaignOrchestratorRun, error)

	// ListByCampaign returns runs for a campaign, newest first
	ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignOrchestratorRun, error)
}

// DistributionJobRepository persists distribution jobs
type DistributionJobRepository interface {
	// Insert inserts the job unless its idempotency key exists; returns false on conflict
	Insert(ctx context.Context, job *models.DistributionJob) (bool, error)

	// GetByKey retrieves a job by idempotency key
	GetByKey(ctx context.Context, key string) (*models.DistributionJob, error)

	// MarkSent records a successful delivery
	MarkSent(ctx context.Context, key string, now time.Time) error

	// MarkFailed records a failed delivery attempt
	MarkFailed(ctx context.Context, key string, lastError string, nextRetryAt *time.Time, now time.Time) error
}

// QuotaRepository stores daily per-channel send counters
type QuotaRepository interface {
	// SentOn returns the number of sends recorded for channel on day
	SentOn(ctx context.Context, channel string, day time.Time) (int, error)

	// Increment atomically adds one send for channel on day and returns the new count
	Increment(ctx context.Context, channel string, day time.Time) (int, error)
}

// SendAttemptRepository stores the Proof-Run Ledger
type SendAttemptRepository interface {
	// Insert appends a send attempt
	Insert(ctx context.Context, attempt *models.SendAttempt) error

	// Summary aggregates attempts created at or after since
	Summary(ctx context.Context, since time.Time) (*models.ProofSummary, error)
}

// AuditRepository handles operator audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// List retrieves audit logs with pagination, newest first
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	ControlFlags     ControlFlagRepository
	Leases           LeaseRepository
	Actions          ActionRepository
	Ticks            TickRepository
	ExecutionLogs    ExecutionLogRepository
	Campaigns        CampaignRepository
	Leads            LeadRepository
	Suppressions     SuppressionRepository
	CampaignRuns     CampaignRunRepository
	DistributionJobs DistributionJobRepository
	Quotas           QuotaRepository
	SendAttempts     SendAttemptRepository
	AuditLogs        AuditRepository
}
