package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/internal/redact"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services"
	"go.uber.org/zap"
)

// ErrAlreadyExists is returned by Enqueue together with the stored row when
// the idempotency key is already present
var ErrAlreadyExists = errors.New("action with this idempotency key already exists")

const staleBatchSize = 100

// PayloadValidator checks an action payload against its registered schema
type PayloadValidator interface {
	ValidatePayload(actionType models.ActionType, payload json.RawMessage) error
}

// EnqueueRequest describes an action to schedule
type EnqueueRequest struct {
	IdempotencyKey string            `json:"idempotency_key" validate:"required,max=255"`
	ActionType     models.ActionType `json:"action_type" validate:"required"`
	Payload        json.RawMessage   `json:"payload"`
	NotBefore      time.Time         `json:"not_before"`
	MaxAttempts    int               `json:"max_attempts" validate:"gte=0,lte=100"`
}

// Outcome reports where a failed attempt left the action
type Outcome struct {
	Status    models.ActionStatus
	Attempts  int
	NotBefore time.Time
}

// Service is the action queue: idempotent enqueue, atomic claiming and the
// retry state machine
type Service struct {
	repo     repositories.ActionRepository
	defaults config.RetryConfig
	policy   *config.Policy
	payloads PayloadValidator
	validate *validator.Validate
	clock    clock.Clock
	logger   *zap.Logger
}

// NewService creates a new queue Service. policy and payloads may be nil.
func NewService(
	repo repositories.ActionRepository,
	defaults config.RetryConfig,
	policy *config.Policy,
	payloads PayloadValidator,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	if policy == nil {
		policy = &config.Policy{}
	}
	return &Service{
		repo:     repo,
		defaults: defaults,
		policy:   policy,
		payloads: payloads,
		validate: validator.New(),
		clock:    clock.Or(clk),
		logger:   logger,
	}
}

// PolicyFor returns the effective retry policy for an action type
func (s *Service) PolicyFor(actionType models.ActionType) RetryPolicy {
	return PolicyFromConfig(s.policy.RetryFor(string(actionType), s.defaults))
}

// Enqueue schedules an action. When the key already exists the stored row is
// returned with ErrAlreadyExists and nothing is changed, whatever its status.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Action, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, services.WrapValidation("invalid enqueue request", err)
	}
	if s.payloads != nil {
		if err := s.payloads.ValidatePayload(req.ActionType, req.Payload); err != nil {
			return nil, err
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.PolicyFor(req.ActionType).MaxAttempts
	}
	notBefore := req.NotBefore
	if notBefore.IsZero() {
		notBefore = s.clock.Now()
	}

	action := models.NewAction(req.IdempotencyKey, req.ActionType, req.Payload, notBefore, maxAttempts)
	now := s.clock.Now()
	action.CreatedAt = now
	action.UpdatedAt = now

	created, stored, err := s.repo.Insert(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue action: %w", err)
	}
	if !created {
		s.logger.Debug("enqueue ignored, key exists",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("status", string(stored.Status)),
		)
		return stored, ErrAlreadyExists
	}

	s.logger.Info("action enqueued",
		zap.Int64("action_id", stored.ID),
		zap.String("idempotency_key", stored.IdempotencyKey),
		zap.String("action_type", string(stored.ActionType)),
		zap.Time("not_before", stored.NotBefore),
	)
	return stored, nil
}

// ClaimBatch moves up to limit due actions to RUNNING for holder, ordered by
// not_before then id
func (s *Service) ClaimBatch(ctx context.Context, holder string, limit int) ([]*models.Action, error) {
	if limit <= 0 {
		return nil, nil
	}
	actions, err := s.repo.ClaimDue(ctx, holder, s.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim actions: %w", err)
	}
	return actions, nil
}

// Complete marks a RUNNING action DONE
func (s *Service) Complete(ctx context.Context, id int64) error {
	if err := s.repo.MarkDone(ctx, id, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to complete action %d: %w", id, err)
	}
	return nil
}

// Fail consumes an attempt. The action moves to DLQ when the error is
// permanent or attempts reach max_attempts, otherwise to FAILED with an
// exponential backoff.
func (s *Service) Fail(ctx context.Context, action *models.Action, cause error, permanent bool) (*Outcome, error) {
	now := s.clock.Now()
	policy := s.PolicyFor(action.ActionType)

	out := &Outcome{
		Attempts:  action.Attempts + 1,
		NotBefore: action.NotBefore,
		Status:    models.ActionStatusFailed,
	}

	maxAttempts := action.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}

	if permanent || out.Attempts >= maxAttempts {
		out.Status = models.ActionStatusDLQ
	} else {
		out.NotBefore = now.Add(CalculateBackoff(out.Attempts, policy.BaseDelay, policy.MaxDelay))
	}

	msg := "unknown error"
	if cause != nil {
		msg = redact.String(cause.Error())
	}

	if err := s.repo.MarkFailed(ctx, action.ID, out.Status, out.Attempts, out.NotBefore, msg, now); err != nil {
		return nil, fmt.Errorf("failed to record failure of action %d: %w", action.ID, err)
	}

	fields := []zap.Field{
		zap.Int64("action_id", action.ID),
		zap.String("action_type", string(action.ActionType)),
		zap.Int("attempts", out.Attempts),
		zap.String("status", string(out.Status)),
		zap.String("error", msg),
	}
	if out.Status == models.ActionStatusDLQ {
		s.logger.Warn("action moved to dead letter queue", append(fields, zap.Bool("permanent", permanent))...)
	} else {
		s.logger.Info("action scheduled for retry", append(fields, zap.Time("not_before", out.NotBefore))...)
	}
	return out, nil
}

// Defer returns a RUNNING action to PENDING without consuming an attempt
func (s *Service) Defer(ctx context.Context, id int64, reason string) error {
	if err := s.repo.Release(ctx, id, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to defer action %d: %w", id, err)
	}
	s.logger.Info("action deferred", zap.Int64("action_id", id), zap.String("reason", reason))
	return nil
}

// DeferUntil returns a RUNNING action to PENDING, due no earlier than until,
// without consuming an attempt
func (s *Service) DeferUntil(ctx context.Context, id int64, reason string, until time.Time) error {
	if err := s.repo.ReleaseUntil(ctx, id, until, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to defer action %d: %w", id, err)
	}
	s.logger.Info("action deferred",
		zap.Int64("action_id", id),
		zap.String("reason", reason),
		zap.Time("not_before", until))
	return nil
}

// Requeue re-arms a FAILED or DLQ action: back to PENDING, due now, with its
// attempt counter reset
func (s *Service) Requeue(ctx context.Context, id int64) (*models.Action, error) {
	ok, err := s.repo.Rearm(ctx, id, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to requeue action %d: %w", id, err)
	}
	if !ok {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, services.ErrNotRequeueable.Clone().
			WithDetail("action_id", id).
			WithDetail("status", string(current.Status))
	}

	s.logger.Info("action requeued", zap.Int64("action_id", id))
	return s.Get(ctx, id)
}

// ReclaimStale fails RUNNING actions whose claim is older than olderThan,
// consuming an attempt. It recovers work stranded by a crashed holder.
func (s *Service) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	stale, err := s.repo.ListStaleRunning(ctx, cutoff, staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale actions: %w", err)
	}

	reclaimed := 0
	for _, action := range stale {
		holder := ""
		if action.ClaimedBy != nil {
			holder = *action.ClaimedBy
		}
		cause := fmt.Errorf("claim by %q expired before completion", holder)
		if _, err := s.Fail(ctx, action, cause, false); err != nil {
			// another process may have reclaimed it first
			if errors.Is(err, repositories.ErrStateConflict) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Get returns an action by ID
func (s *Service) Get(ctx context.Context, id int64) (*models.Action, error) {
	action, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action %d: %w", id, err)
	}
	return action, nil
}

// List returns actions in a status, oldest due first
func (s *Service) List(ctx context.Context, status models.ActionStatus, limit, offset int) ([]*models.Action, error) {
	actions, err := s.repo.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, nil
}

// Depth returns the number of actions per queue bucket
func (s *Service) Depth(ctx context.Context) (*models.QueueDepth, error) {
	depth, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	return depth, nil
}
