package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services"
	"github.com/upb/autonomy-orchestrator/services/lease"
	"github.com/upb/autonomy-orchestrator/services/queue"
	"github.com/upb/autonomy-orchestrator/services/safety"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	// ErrKilled is returned when the kill switch is engaged
	ErrKilled = fmt.Errorf("campaign run halted: %w", services.ErrKillSwitchEngaged)

	// ErrPaused is returned when runs are paused by an operator
	ErrPaused = errors.New("campaign runs paused by operator")

	// ErrCampaignInactive is returned for campaigns that are not ACTIVE
	ErrCampaignInactive = services.NewDomainError(services.ErrorTypeConflict, "campaign is not active", nil)
)

var tracer = otel.Tracer("github.com/upb/autonomy-orchestrator/services/orchestrator")

// FollowUpPolicy decides whether a lead's sequence should stop before its
// next step, e.g. because the lead replied
type FollowUpPolicy interface {
	ShouldStop(ctx context.Context, lead *models.Lead) (bool, error)
}

// FollowUpFunc adapts a function to FollowUpPolicy
type FollowUpFunc func(ctx context.Context, lead *models.Lead) (bool, error)

// ShouldStop calls f
func (f FollowUpFunc) ShouldStop(ctx context.Context, lead *models.Lead) (bool, error) {
	return f(ctx, lead)
}

// NeverStop continues every eligible lead
var NeverStop = FollowUpFunc(func(context.Context, *models.Lead) (bool, error) { return false, nil })

// FlagReader reads the current control flags, bypassing any cache
type FlagReader interface {
	Get(ctx context.Context) (*models.ControlFlags, error)
}

// Config holds the orchestrator settings
type Config struct {
	Interval          time.Duration
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	LeadBatchSize     int
	Concurrency       int
	JobMaxRetries     int
}

// ConfigFromApp converts the application orchestrator configuration
func ConfigFromApp(c config.OrchestratorConfig) Config {
	return Config{
		Interval:          c.Interval,
		LeaseTTL:          c.LeaseTTL,
		HeartbeatInterval: c.HeartbeatInterval,
		LeadBatchSize:     c.LeadBatchSize,
		Concurrency:       c.Concurrency,
		JobMaxRetries:     c.JobMaxRetries,
	}
}

// Deps are the orchestrator's collaborators
type Deps struct {
	Leases       *lease.Manager
	Flags        FlagReader
	Campaigns    repositories.CampaignRepository
	Leads        repositories.LeadRepository
	Suppressions repositories.SuppressionRepository
	Runs         repositories.CampaignRunRepository
	Jobs         repositories.DistributionJobRepository
	Tx           repositories.TransactionManager
	Queue        *queue.Service
	Gate         *safety.Gate
	FollowUp     FollowUpPolicy
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Orchestrator turns eligible campaign leads into distribution jobs and
// distribution_send actions. It plans work; the tick loop sends it.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	clock  clock.Clock
	logger *zap.Logger
}

// New creates an Orchestrator
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.LeaseTTL < 2*cfg.HeartbeatInterval {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration,
			fmt.Sprintf("orchestrator lease ttl (%s) must be at least twice the heartbeat interval (%s)", cfg.LeaseTTL, cfg.HeartbeatInterval), nil)
	}
	if cfg.LeadBatchSize <= 0 {
		cfg.LeadBatchSize = 100
	}
	if cfg.JobMaxRetries < 0 {
		cfg.JobMaxRetries = 0
	}
	if deps.FollowUp == nil {
		deps.FollowUp = NeverStop
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		clock:  clock.Or(deps.Clock),
		logger: logger,
	}, nil
}

// RunCampaign performs one orchestration pass over a campaign. It returns
// lease.ErrLeaseDenied when another process is already running it. The
// returned run row is finalized as COMPLETED, ABORTED or FAILED.
func (o *Orchestrator) RunCampaign(ctx context.Context, campaignID int64) (*models.CampaignOrchestratorRun, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.campaign_run")
	defer span.End()
	span.SetAttributes(attribute.Int64("campaign.id", campaignID))

	campaign, err := o.deps.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrCampaignNotFound
		}
		return nil, services.WrapInternal("failed to load campaign", err)
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, ErrCampaignInactive
	}

	h, err := o.deps.Leases.Acquire(ctx, lease.CampaignOwner(campaignID), o.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := o.deps.Leases.Release(context.WithoutCancel(ctx), h); err != nil {
			o.logger.Warn("failed to release campaign lease", zap.Int64("campaign_id", campaignID), zap.Error(err))
		}
	}()

	flags, err := o.deps.Flags.Get(ctx)
	if err != nil {
		return nil, err
	}
	if flags.Killed {
		return nil, ErrKilled
	}
	if flags.Paused {
		return nil, ErrPaused
	}

	run := models.NewCampaignOrchestratorRun(campaignID, h.Holder, h.ExpiresAt, o.clock.Now())
	if err := o.deps.Runs.Create(ctx, run); err != nil {
		return nil, services.WrapInternal("failed to create campaign run", err)
	}
	logger := o.logger.With(zap.Int64("campaign_id", campaignID), zap.String("run_id", run.ID.String()))
	logger.Info("campaign run started", zap.String("channel", campaign.Channel))

	runErr := o.process(ctx, campaign, run, h, logger)

	completedAt := o.clock.Now()
	run.CompletedAt = &completedAt
	switch {
	case runErr == nil:
		run.Status = models.RunStatusCompleted
	case errors.Is(runErr, lease.ErrLeaseLost):
		run.Status = models.RunStatusAborted
		msg := runErr.Error()
		run.LastError = &msg
	default:
		run.Status = models.RunStatusFailed
		msg := runErr.Error()
		run.LastError = &msg
		span.RecordError(runErr)
		span.SetStatus(codes.Error, msg)
	}

	if err := o.deps.Runs.Update(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("failed to finalize campaign run", zap.Error(err))
	}

	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Int("run.leads_processed", run.LeadsProcessed),
		attribute.Int("run.jobs_created", run.JobsCreated),
	)
	logger.Info("campaign run finished",
		zap.String("status", string(run.Status)),
		zap.Int("leads_processed", run.LeadsProcessed),
		zap.Int("jobs_created", run.JobsCreated),
		zap.Int("attempts_failed", run.AttemptsFailed),
	)
	return run, runErr
}

func (o *Orchestrator) process(ctx context.Context, campaign *models.Campaign, run *models.CampaignOrchestratorRun, h *lease.Handle, logger *zap.Logger) error {
	now := o.clock.Now()

	remaining, err := o.deps.Gate.RemainingQuota(ctx, campaign.Channel, now)
	if err != nil {
		return err
	}

	leads, err := o.deps.Leads.ListEligible(ctx, campaign.ID, now, campaign.MaxSteps, o.cfg.LeadBatchSize)
	if err != nil {
		return services.WrapInternal("failed to list eligible leads", err)
	}

	seen := make(map[string]bool, len(leads))
	planned := 0
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return err
		}

		renewed, err := o.deps.Leases.Heartbeat(ctx, h, o.cfg.HeartbeatInterval)
		if err != nil {
			return err
		}
		if renewed.RenewedAt != h.RenewedAt {
			run.HeartbeatAt = renewed.RenewedAt
			run.LeaseExpiresAt = renewed.ExpiresAt
			if err := o.deps.Runs.Update(ctx, run); err != nil {
				logger.Warn("failed to persist run heartbeat", zap.Error(err))
			}
		}
		*h = *renewed

		stop, err := o.deps.FollowUp.ShouldStop(ctx, lead)
		if err != nil {
			run.LeadsProcessed++
			run.Fail(fmt.Errorf("lead %d: follow-up policy: %w", lead.ID, err))
			continue
		}
		if stop {
			continue
		}
		run.LeadsProcessed++

		reason, err := o.blockReason(ctx, lead, seen)
		if err != nil {
			run.Fail(fmt.Errorf("lead %d: %w", lead.ID, err))
			continue
		}
		if reason != models.BlockReasonNone {
			logger.Debug("lead filtered", zap.Int64("lead_id", lead.ID), zap.String("reason", string(reason)))
			continue
		}

		if remaining-planned <= 0 {
			logger.Info("daily quota exhausted, deferring remaining leads",
				zap.String("channel", campaign.Channel),
				zap.Int("planned", planned))
			break
		}

		created, err := o.plan(ctx, campaign, lead)
		if err != nil {
			run.Fail(fmt.Errorf("lead %d: %w", lead.ID, err))
			logger.Warn("failed to plan lead", zap.Int64("lead_id", lead.ID), zap.Error(err))
			continue
		}
		run.AttemptsSucceeded++
		if created {
			run.JobsCreated++
			planned++
		}
	}
	return nil
}

// blockReason applies the deny-list, consent and per-run dedup filters
func (o *Orchestrator) blockReason(ctx context.Context, lead *models.Lead, seen map[string]bool) (models.BlockReason, error) {
	email := lead.NormalizedEmail()

	suppressed, err := o.deps.Suppressions.IsSuppressed(ctx, email, emailDomain(email), lead.IdentityHash)
	if err != nil {
		return models.BlockReasonNone, fmt.Errorf("suppression lookup: %w", err)
	}
	if suppressed {
		return models.BlockReasonSuppressed, nil
	}

	unsubscribed, err := o.deps.Suppressions.IsUnsubscribed(ctx, email, lead.IdentityHash)
	if err != nil {
		return models.BlockReasonNone, fmt.Errorf("unsubscribe lookup: %w", err)
	}
	if unsubscribed {
		return models.BlockReasonUnsubscribed, nil
	}

	if !lead.ConsentStatus.IsAffirmative() {
		return models.BlockReasonNoConsent, nil
	}

	if seen[email] {
		return models.BlockReasonDuplicate, nil
	}
	seen[email] = true
	return models.BlockReasonNone, nil
}

// plan inserts the distribution job and its action in one transaction.
// It reports false when the job already existed.
func (o *Orchestrator) plan(ctx context.Context, campaign *models.Campaign, lead *models.Lead) (bool, error) {
	now := o.clock.Now()
	job := models.NewDistributionJob(campaign, lead, o.cfg.JobMaxRetries, now)

	payload, err := json.Marshal(models.DistributionPayload{
		JobKey:     job.IdempotencyKey,
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		Channel:    campaign.Channel,
		StepIndex:  lead.StepIndex,
		Email:      lead.NormalizedEmail(),
	})
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}

	return services.WithTransactionResult(ctx, o.deps.Tx, func(txCtx context.Context, _ repositories.Transaction) (bool, error) {
		inserted, err := o.deps.Jobs.Insert(txCtx, job)
		if err != nil {
			return false, fmt.Errorf("insert distribution job: %w", err)
		}
		if !inserted {
			return false, nil
		}

		_, err = o.deps.Queue.Enqueue(txCtx, queue.EnqueueRequest{
			IdempotencyKey: job.IdempotencyKey,
			ActionType:     models.ActionTypeDistributionSend,
			Payload:        payload,
			NotBefore:      now,
			MaxAttempts:    o.cfg.JobMaxRetries + 1,
		})
		if err != nil && !errors.Is(err, queue.ErrAlreadyExists) {
			return false, err
		}
		return true, nil
	})
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
