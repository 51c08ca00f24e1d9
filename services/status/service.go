package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// FlagSource returns possibly cached control flags
type FlagSource interface {
	Cached(ctx context.Context) (*models.ControlFlags, error)
}

// LeaseSource reads a lease row by name
type LeaseSource interface {
	Current(ctx context.Context, owner string) (*models.Lease, error)
}

// QueueSource reports action counts per state
type QueueSource interface {
	Depth(ctx context.Context) (*models.QueueDepth, error)
}

// QuotaSource reports today's channel counters and limits
type QuotaSource interface {
	Usage(ctx context.Context) ([]models.ChannelQuotaUsage, error)
	Limit(channel string) int
}

// LeaseStatus describes the scheduler lease
type LeaseStatus struct {
	Owner     string    `json:"owner"`
	Holder    string    `json:"holder"`
	RenewedAt time.Time `json:"renewed_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Live      bool      `json:"live"`
}

// ChannelStatus is one channel's daily quota position
type ChannelStatus struct {
	Channel   string    `json:"channel"`
	Day       time.Time `json:"day"`
	Sent      int       `json:"sent"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
}

// Snapshot is the operator-facing view of the layer. It never carries
// credentials or connection strings.
type Snapshot struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Flags       *models.ControlFlags `json:"flags"`
	Lease       *LeaseStatus         `json:"lease"`
	LastTick    *models.TickEntry    `json:"last_tick"`
	Queue       *models.QueueDepth   `json:"queue"`
	Channels    []ChannelStatus      `json:"channels"`
}

// Service assembles status snapshots
type Service struct {
	flags     FlagSource
	leases    LeaseSource
	queue     QueueSource
	quotas    QuotaSource
	ticks     repositories.TickRepository
	leaseName string
	clock     clock.Clock
	logger    *zap.Logger
}

// NewService creates a new status Service
func NewService(flags FlagSource, leases LeaseSource, queue QueueSource, quotas QuotaSource, ticks repositories.TickRepository, leaseName string, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		flags:     flags,
		leases:    leases,
		queue:     queue,
		quotas:    quotas,
		ticks:     ticks,
		leaseName: leaseName,
		clock:     clock.Or(clk),
		logger:    logger,
	}
}

// Snapshot reads the current state of every component
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := s.clock.Now()
	snap := &Snapshot{GeneratedAt: now, Channels: []ChannelStatus{}}

	flags, err := s.flags.Cached(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	snap.Flags = flags

	l, err := s.leases.Current(ctx, s.leaseName)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if l != nil {
		snap.Lease = &LeaseStatus{
			Owner:     l.Owner,
			Holder:    l.Holder,
			RenewedAt: l.RenewedAt,
			ExpiresAt: l.ExpiresAt,
			Live:      l.IsLive(now),
		}
	}

	tick, err := s.ticks.Latest(ctx)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("status: failed to read last tick: %w", err)
	default:
		snap.LastTick = tick
	}

	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	snap.Queue = depth

	usage, err := s.quotas.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	for _, u := range usage {
		limit := s.quotas.Limit(u.Channel)
		remaining := limit - u.Sent
		if remaining < 0 {
			remaining = 0
		}
		snap.Channels = append(snap.Channels, ChannelStatus{
			Channel:   u.Channel,
			Day:       u.Day,
			Sent:      u.Sent,
			Limit:     limit,
			Remaining: remaining,
		})
	}

	return snap, nil
}
