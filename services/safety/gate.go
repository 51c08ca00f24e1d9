package safety

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"go.uber.org/zap"
)

// Gate enforces per-channel daily send limits. Counters are keyed by UTC date,
// so every channel's allowance resets at midnight UTC.
type Gate struct {
	quotas       repositories.QuotaRepository
	limits       map[string]int
	defaultLimit int
	clock        clock.Clock
	logger       *zap.Logger
}

// NewGate creates a new Gate. Channels absent from the policy use defaultLimit;
// a limit of 0 denies every send on that channel.
func NewGate(quotas repositories.QuotaRepository, policy *config.Policy, defaultLimit int, clk clock.Clock, logger *zap.Logger) *Gate {
	limits := map[string]int{}
	if policy != nil {
		limits = policy.ChannelLimits()
	}
	return &Gate{
		quotas:       quotas,
		limits:       limits,
		defaultLimit: defaultLimit,
		clock:        clock.Or(clk),
		logger:       logger,
	}
}

// Limit returns the daily limit for channel
func (g *Gate) Limit(channel string) int {
	if limit, ok := g.limits[channel]; ok {
		return limit
	}
	return g.defaultLimit
}

// RemainingQuota returns how many more sends channel may make on day's UTC date
func (g *Gate) RemainingQuota(ctx context.Context, channel string, day time.Time) (int, error) {
	sent, err := g.quotas.SentOn(ctx, channel, day.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to read quota for %s: %w", channel, err)
	}
	remaining := g.Limit(channel) - sent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CanSend reports whether channel has quota left today. Actions without a
// channel are not gated.
func (g *Gate) CanSend(ctx context.Context, channel string) (bool, error) {
	if channel == "" {
		return true, nil
	}
	remaining, err := g.RemainingQuota(ctx, channel, g.clock.Now())
	if err != nil {
		return false, err
	}
	if remaining <= 0 {
		g.logger.Info("send denied by daily limit",
			zap.String("channel", channel),
			zap.Int("limit", g.Limit(channel)))
		return false, nil
	}
	return true, nil
}

// NextReset returns the next midnight UTC, when every channel's allowance
// starts over
func (g *Gate) NextReset() time.Time {
	now := g.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// RegisterSent counts one real send against today's quota
func (g *Gate) RegisterSent(ctx context.Context, channel string) (int, error) {
	if channel == "" {
		return 0, nil
	}
	sent, err := g.quotas.Increment(ctx, channel, g.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to register send for %s: %w", channel, err)
	}
	return sent, nil
}

// Usage reports today's counters for every channel with an explicit limit
func (g *Gate) Usage(ctx context.Context) ([]models.ChannelQuotaUsage, error) {
	now := g.clock.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	channels := make([]string, 0, len(g.limits))
	for channel := range g.limits {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	out := make([]models.ChannelQuotaUsage, 0, len(channels))
	for _, channel := range channels {
		sent, err := g.quotas.SentOn(ctx, channel, now)
		if err != nil {
			return nil, fmt.Errorf("failed to read quota for %s: %w", channel, err)
		}
		out = append(out, models.ChannelQuotaUsage{Channel: channel, Day: day, Sent: sent})
	}
	return out, nil
}
