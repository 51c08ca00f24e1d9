package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services/lease"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner periodically orchestrates every active campaign with bounded
// concurrency
type Runner struct {
	orch        *Orchestrator
	campaigns   repositories.CampaignRepository
	interval    time.Duration
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a Runner over orch
func NewRunner(orch *Orchestrator, campaigns repositories.CampaignRepository) *Runner {
	concurrency := orch.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	interval := orch.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		orch:        orch,
		campaigns:   campaigns,
		interval:    interval,
		concurrency: concurrency,
		logger:      orch.logger,
	}
}

// Run orchestrates all active campaigns every interval until ctx is cancelled
// or the kill switch is engaged
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("campaign runner started",
		zap.Duration("interval", r.interval),
		zap.Int("concurrency", r.concurrency))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrKilled) {
				r.logger.Warn("campaign runner halted by kill switch")
				return err
			}
			r.logger.Error("campaign pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("campaign runner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce orchestrates each active campaign once. Campaigns held by another
// process are skipped; only the kill switch and listing errors are returned.
func (r *Runner) RunOnce(ctx context.Context) error {
	campaigns, err := r.campaigns.ListActive(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, c := range campaigns {
		campaignID := c.ID
		g.Go(func() error {
			run, err := r.orch.RunCampaign(gctx, campaignID)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrKilled):
				return err
			case errors.Is(err, lease.ErrLeaseDenied):
				r.logger.Debug("campaign held by another process", zap.Int64("campaign_id", campaignID))
			case errors.Is(err, ErrPaused):
				r.logger.Debug("campaign run skipped while paused", zap.Int64("campaign_id", campaignID))
			default:
				fields := []zap.Field{zap.Int64("campaign_id", campaignID), zap.Error(err)}
				if run != nil {
					fields = append(fields, zap.String("status", string(run.Status)))
				}
				r.logger.Error("campaign run failed", fields...)
			}
			return nil
		})
	}
	return g.Wait()
}
