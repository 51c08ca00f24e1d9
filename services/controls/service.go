package controls

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// AuditRecorder receives one entry per operator flag change
type AuditRecorder interface {
	Record(ctx context.Context, actor string, action models.AuditAction, details interface{}) error
}

// Service reads and flips the global control flags
type Service struct {
	repo   repositories.ControlFlagRepository
	audit  AuditRecorder
	cache  *FlagCache
	logger *zap.Logger
}

// NewService creates a new controls Service. audit may be nil.
func NewService(repo repositories.ControlFlagRepository, audit AuditRecorder, cacheTTL time.Duration, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		audit:  audit,
		cache:  NewFlagCache(cacheTTL, clk),
		logger: logger,
	}
}

// Get reads the flags from the store. Safety decisions must use this.
func (s *Service) Get(ctx context.Context) (*models.ControlFlags, error) {
	flags, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read control flags: %w", err)
	}
	return flags, nil
}

// Cached reads the flags through the TTL cache, for status reporting only
func (s *Service) Cached(ctx context.Context) (*models.ControlFlags, error) {
	if flags := s.cache.Get(); flags != nil {
		return flags, nil
	}
	flags, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(flags)
	return flags, nil
}

// Pause stops new work from starting. Leases keep being renewed.
func (s *Service) Pause(ctx context.Context, actor string) (*models.ControlFlags, error) {
	return s.update(ctx, actor, models.AuditActionPause, func(f *models.ControlFlags) { f.Paused = true })
}

// Resume clears the pause flag
func (s *Service) Resume(ctx context.Context, actor string) (*models.ControlFlags, error) {
	return s.update(ctx, actor, models.AuditActionResume, func(f *models.ControlFlags) { f.Paused = false })
}

// Kill engages the kill switch: loops release their leases and halt
func (s *Service) Kill(ctx context.Context, actor string) (*models.ControlFlags, error) {
	return s.update(ctx, actor, models.AuditActionKill, func(f *models.ControlFlags) { f.Killed = true })
}

// Unkill disengages the kill switch. Halted loops must be restarted.
func (s *Service) Unkill(ctx context.Context, actor string) (*models.ControlFlags, error) {
	return s.update(ctx, actor, models.AuditActionUnkill, func(f *models.ControlFlags) { f.Killed = false })
}

// SetProofMode switches dry-run sending on or off
func (s *Service) SetProofMode(ctx context.Context, actor string, enabled bool) (*models.ControlFlags, error) {
	return s.update(ctx, actor, models.AuditActionProofMode, func(f *models.ControlFlags) { f.ProofMode = enabled })
}

func (s *Service) update(ctx context.Context, actor string, action models.AuditAction, apply func(f *models.ControlFlags)) (*models.ControlFlags, error) {
	var before models.ControlFlags
	flags, err := s.repo.Update(ctx, actor, func(f *models.ControlFlags) error {
		before = *f
		apply(f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update control flags: %w", err)
	}
	s.cache.Invalidate()

	s.logger.Info("control flags updated",
		zap.String("actor", actor),
		zap.String("action", string(action)),
		zap.Bool("paused", flags.Paused),
		zap.Bool("killed", flags.Killed),
		zap.Bool("proof_mode", flags.ProofMode),
		zap.Int64("version", flags.Version),
	)

	if s.audit != nil {
		details := map[string]interface{}{
			"before":  flagState(&before),
			"after":   flagState(flags),
			"version": flags.Version,
		}
		if err := s.audit.Record(ctx, actor, action, details); err != nil {
			s.logger.Warn("failed to record audit entry", zap.String("action", string(action)), zap.Error(err))
		}
	}
	return flags, nil
}

func flagState(f *models.ControlFlags) map[string]bool {
	return map[string]bool{
		"paused":     f.Paused,
		"killed":     f.Killed,
		"proof_mode": f.ProofMode,
	}
}
