package proof

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// Blocked reasons written to the ledger
const (
	BlockedEgress = "egress_blocked"
)

// Attempt is one real or simulated send to record
type Attempt struct {
	ActionID      int64
	Channel       string
	Destination   string
	Summary       string
	ActuallySent  bool
	BlockedReason string
}

// Ledger is the append-only record of every send the system made or simulated
type Ledger struct {
	repo   repositories.SendAttemptRepository
	clock  clock.Clock
	logger *zap.Logger
}

// NewLedger creates a new Ledger
func NewLedger(repo repositories.SendAttemptRepository, clk clock.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		clock:  clock.Or(clk),
		logger: logger,
	}
}

// RecordSendAttempt appends an attempt to the ledger
func (l *Ledger) RecordSendAttempt(ctx context.Context, a Attempt) (*models.SendAttempt, error) {
	row := &models.SendAttempt{
		Channel:      a.Channel,
		Destination:  a.Destination,
		Summary:      a.Summary,
		ActuallySent: a.ActuallySent,
		CreatedAt:    l.clock.Now(),
	}
	if a.ActionID != 0 {
		id := a.ActionID
		row.ActionID = &id
	}
	if a.BlockedReason != "" {
		reason := a.BlockedReason
		row.BlockedReason = &reason
	}

	if err := l.repo.Insert(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to record send attempt: %w", err)
	}

	l.logger.Debug("send attempt recorded",
		zap.Int64("attempt_id", row.ID),
		zap.Int64("action_id", a.ActionID),
		zap.String("channel", a.Channel),
		zap.Bool("actually_sent", a.ActuallySent),
		zap.String("blocked_reason", a.BlockedReason),
	)
	return row, nil
}

// Summary aggregates attempts recorded at or after since
func (l *Ledger) Summary(ctx context.Context, since time.Time) (*models.ProofSummary, error) {
	summary, err := l.repo.Summary(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize send attempts: %w", err)
	}
	summary.Since = since
	return summary, nil
}
