package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/internal/redact"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services"
	"github.com/upb/autonomy-orchestrator/services/dispatch"
	"github.com/upb/autonomy-orchestrator/services/lease"
	"github.com/upb/autonomy-orchestrator/services/proof"
	"github.com/upb/autonomy-orchestrator/services/queue"
	"github.com/upb/autonomy-orchestrator/services/safety"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ErrKilled is returned when the kill switch halts the tick loop
var ErrKilled = fmt.Errorf("scheduler halted: %w", services.ErrKillSwitchEngaged)

var tracer = otel.Tracer("github.com/upb/autonomy-orchestrator/services/scheduler")

// Config holds the tick loop settings
type Config struct {
	LeaseName         string
	TickInterval      time.Duration
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	BatchSize         int
}

// ConfigFromApp converts the application scheduler configuration
func ConfigFromApp(c config.SchedulerConfig) Config {
	return Config{
		LeaseName:         c.LeaseName,
		TickInterval:      c.TickInterval,
		LeaseTTL:          c.LeaseTTL,
		HeartbeatInterval: c.HeartbeatInterval,
		BatchSize:         c.BatchSize,
	}
}

// Validate checks the settings the loop cannot run without
func (c Config) Validate() error {
	if c.LeaseName == "" {
		return errors.New("scheduler lease name is required")
	}
	if c.TickInterval <= 0 {
		return errors.New("scheduler tick interval must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("scheduler batch size must be positive")
	}
	if c.LeaseTTL <= c.TickInterval+c.HeartbeatInterval {
		return fmt.Errorf("scheduler lease ttl (%s) must exceed tick interval (%s) plus heartbeat interval (%s)",
			c.LeaseTTL, c.TickInterval, c.HeartbeatInterval)
	}
	return nil
}

// FlagReader reads the current control flags, bypassing any cache
type FlagReader interface {
	Get(ctx context.Context) (*models.ControlFlags, error)
}

// Deps are the scheduler's collaborators
type Deps struct {
	Leases    *lease.Manager
	Flags     FlagReader
	Queue     *queue.Service
	Registry  *dispatch.Registry
	Gate      *safety.Gate
	Ledger    *proof.Ledger
	Guard     *proof.EgressGuard
	Transport proof.Transport
	Ticks     repositories.TickRepository
	Logs      repositories.ExecutionLogRepository
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Scheduler is the single-writer tick loop. Only the lease holder claims and
// executes actions; every tick leaves one row in the tick ledger.
type Scheduler struct {
	cfg  Config
	deps Deps

	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	handle *lease.Handle
}

// New creates a Scheduler
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration, err.Error(), err)
	}
	if deps.Leases == nil || deps.Flags == nil || deps.Queue == nil || deps.Registry == nil ||
		deps.Gate == nil || deps.Ledger == nil || deps.Ticks == nil || deps.Logs == nil {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration, "scheduler dependencies are incomplete", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		clock:  clock.Or(deps.Clock),
		logger: logger.With(zap.String("holder", deps.Leases.Holder())),
	}, nil
}

// Run ticks every TickInterval until ctx is cancelled or the kill switch is
// engaged. The lease is released on exit.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("tick scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int("batch_size", s.cfg.BatchSize))

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	defer s.release(context.WithoutCancel(ctx))

	for {
		if _, err := s.RunOnce(ctx); errors.Is(err, ErrKilled) {
			s.logger.Warn("tick scheduler halted by kill switch")
			return ErrKilled
		}

		select {
		case <-ctx.Done():
			s.logger.Info("tick scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single tick and records it. Tick failures are recorded
// as FAILED entries; only ErrKilled and ledger write errors are returned.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.TickEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	entry := &models.TickEntry{
		Holder:    s.deps.Leases.Holder(),
		StartedAt: s.clock.Now(),
	}

	err := s.tick(ctx, entry)
	if err != nil && !errors.Is(err, ErrKilled) {
		entry.Status = models.TickStatusFailed
		entry.Notes = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("tick failed", zap.Error(err))
	}
	entry.FinishedAt = s.clock.Now()

	span.SetAttributes(
		attribute.String("tick.status", string(entry.Status)),
		attribute.Int("tick.actions_attempted", entry.ActionsAttempted),
		attribute.Int("tick.actions_succeeded", entry.ActionsSucceeded),
	)

	// the ledger row is written even when the tick was cancelled
	if recErr := s.deps.Ticks.Insert(context.WithoutCancel(ctx), entry); recErr != nil {
		s.logger.Error("failed to record tick", zap.String("status", string(entry.Status)), zap.Error(recErr))
		return entry, fmt.Errorf("failed to record tick: %w", recErr)
	}

	s.logger.Debug("tick recorded",
		zap.String("status", string(entry.Status)),
		zap.Int("attempted", entry.ActionsAttempted),
		zap.Int("succeeded", entry.ActionsSucceeded))

	if errors.Is(err, ErrKilled) {
		return entry, err
	}
	return entry, nil
}

func (s *Scheduler) tick(ctx context.Context, entry *models.TickEntry) error {
	if err := s.ensureLease(ctx); err != nil {
		if errors.Is(err, lease.ErrLeaseDenied) {
			entry.Status = models.TickStatusSkipped
			entry.Notes = "lease held by another holder"
			return nil
		}
		return err
	}

	flags, err := s.deps.Flags.Get(ctx)
	if err != nil {
		return err
	}
	if flags.Killed {
		s.release(ctx)
		entry.Status = models.TickStatusKilled
		entry.Notes = "kill switch engaged"
		return ErrKilled
	}
	if flags.Paused {
		entry.Status = models.TickStatusPaused
		entry.Notes = "paused by operator"
		return nil
	}

	reclaimed, err := s.deps.Queue.ReclaimStale(ctx, s.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		s.logger.Warn("reclaimed stale running actions", zap.Int("count", reclaimed))
	}

	actions, err := s.deps.Queue.ClaimBatch(ctx, s.handle.Holder, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		entry.Status = models.TickStatusIdle
		return nil
	}

	for i, action := range actions {
		flags, err = s.deps.Flags.Get(ctx)
		if err != nil {
			s.deferRest(ctx, actions[i:], "control flags unavailable")
			return err
		}
		if flags.Killed {
			s.deferRest(ctx, actions[i:], "kill switch engaged")
			s.release(ctx)
			entry.Status = models.TickStatusKilled
			entry.Notes = fmt.Sprintf("kill switch engaged mid-batch, %d deferred", len(actions)-i)
			return ErrKilled
		}
		if flags.Paused {
			s.deferRest(ctx, actions[i:], "paused by operator")
			entry.Status = models.TickStatusPaused
			entry.Notes = fmt.Sprintf("paused mid-batch, %d deferred", len(actions)-i)
			return nil
		}

		h, err := s.deps.Leases.Heartbeat(ctx, s.handle, s.cfg.HeartbeatInterval)
		if err != nil {
			s.handle = nil
			s.deferRest(ctx, actions[i:], "lease lost")
			if errors.Is(err, lease.ErrLeaseLost) {
				entry.Status = models.TickStatusAborted
				entry.Notes = fmt.Sprintf("lease lost mid-batch, %d deferred", len(actions)-i)
				return nil
			}
			return err
		}
		s.handle = h

		s.execute(ctx, action, flags.ProofMode, entry)
	}

	entry.Status = models.TickStatusCompleted
	return nil
}

// execute runs one claimed action and settles it. Errors never escape: they
// are routed to the queue and the execution log.
func (s *Scheduler) execute(ctx context.Context, action *models.Action, proofMode bool, entry *models.TickEntry) {
	ctx, span := tracer.Start(ctx, "scheduler.action")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("action.id", action.ID),
		attribute.String("action.type", string(action.ActionType)),
		attribute.Bool("action.proof_mode", proofMode),
	)

	channel := s.deps.Registry.ChannelOf(action)
	allowed, err := s.deps.Gate.CanSend(ctx, channel)
	if err != nil {
		s.deferAction(ctx, action, "safety gate unavailable: "+err.Error())
		return
	}
	if !allowed {
		// parked until the quota resets so it cannot crowd other channels out of the batch
		until := s.deps.Gate.NextReset()
		reason := fmt.Sprintf("daily limit reached for channel %s, parked until %s", channel, until.Format(time.RFC3339))
		if err := s.deps.Queue.DeferUntil(ctx, action.ID, reason, until); err != nil {
			s.logger.Error("failed to defer action", zap.Int64("action_id", action.ID), zap.Error(err))
			return
		}
		s.writeLog(ctx, action.ID, models.LogLevelWarn, "deferred: "+reason, nil)
		return
	}

	entry.ActionsAttempted++
	sender := proof.NewSender(s.deps.Ledger, s.deps.Guard, s.deps.Transport, proofMode, s.logger)
	res, err := s.deps.Registry.Dispatch(ctx, &dispatch.Request{Action: action, Sender: sender})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		permanent := dispatch.IsPermanent(err)
		out, failErr := s.deps.Queue.Fail(ctx, action, err, permanent)
		if failErr != nil {
			s.logger.Error("failed to record action failure", zap.Int64("action_id", action.ID), zap.Error(failErr))
			s.writeLog(ctx, action.ID, models.LogLevelError, fmt.Sprintf("attempt failed: %v", err), nil)
			return
		}
		failure := dispatch.Failure{Cause: err, Attempts: out.Attempts}
		if out.Status == models.ActionStatusFailed {
			next := out.NotBefore
			failure.NextAttempt = &next
		}
		if recErr := s.deps.Registry.RecordFailure(ctx, action, failure); recErr != nil {
			s.logger.Warn("failed to record failure on handler state", zap.Int64("action_id", action.ID), zap.Error(recErr))
		}

		msg := fmt.Sprintf("attempt %d failed: %v; status %s", out.Attempts, err, out.Status)
		if out.Status == models.ActionStatusFailed {
			msg += fmt.Sprintf(", retry after %s", out.NotBefore.Format(time.RFC3339))
		}
		s.writeLog(ctx, action.ID, models.LogLevelError, msg, nil)
		return
	}

	if err := s.deps.Queue.Complete(ctx, action.ID); err != nil {
		// the action was reclaimed by another holder; it will be retried there
		s.logger.Error("failed to complete action", zap.Int64("action_id", action.ID), zap.Error(err))
		s.writeLog(ctx, action.ID, models.LogLevelError, "completion not recorded: "+err.Error(), res)
		return
	}
	entry.ActionsSucceeded++

	msg := res.Message
	if msg == "" {
		msg = string(action.ActionType) + " completed"
	}
	if res.DryRun {
		msg = "[dry-run] " + msg
	}
	s.writeLog(ctx, action.ID, models.LogLevelInfo, msg, res)

	if res.Sent {
		if _, err := s.deps.Gate.RegisterSent(ctx, channel); err != nil {
			s.logger.Error("failed to register send against quota", zap.String("channel", channel), zap.Error(err))
		}
	}
}

func (s *Scheduler) ensureLease(ctx context.Context) error {
	if s.handle != nil {
		h, err := s.deps.Leases.Renew(ctx, s.handle)
		if err == nil {
			s.handle = h
			return nil
		}
		s.handle = nil
		if !errors.Is(err, lease.ErrLeaseLost) {
			return err
		}
	}

	h, err := s.deps.Leases.Acquire(ctx, s.cfg.LeaseName, s.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	s.handle = h
	return nil
}

func (s *Scheduler) release(ctx context.Context) {
	if s.handle == nil {
		return
	}
	if err := s.deps.Leases.Release(ctx, s.handle); err != nil {
		s.logger.Warn("failed to release scheduler lease", zap.Error(err))
	}
	s.handle = nil
}

func (s *Scheduler) deferAction(ctx context.Context, action *models.Action, reason string) {
	if err := s.deps.Queue.Defer(ctx, action.ID, reason); err != nil {
		s.logger.Error("failed to defer action", zap.Int64("action_id", action.ID), zap.Error(err))
		return
	}
	s.writeLog(ctx, action.ID, models.LogLevelWarn, "deferred: "+reason, nil)
}

func (s *Scheduler) deferRest(ctx context.Context, actions []*models.Action, reason string) {
	for _, action := range actions {
		if err := s.deps.Queue.Defer(ctx, action.ID, reason); err != nil {
			s.logger.Error("failed to defer action", zap.Int64("action_id", action.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) writeLog(ctx context.Context, actionID int64, level models.LogLevel, msg string, res *dispatch.Result) {
	entry := models.NewExecutionLog(actionID, level, redact.String(msg))
	entry.Timestamp = s.clock.Now()
	if res != nil {
		entry.WithArtifact(res.ArtifactRef, res.ArtifactSHA256)
	}
	if err := s.deps.Logs.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to write execution log", zap.Int64("action_id", actionID), zap.Error(err))
	}
}
