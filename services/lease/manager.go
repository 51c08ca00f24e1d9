package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services"
	"go.uber.org/zap"
)

var (
	// ErrLeaseDenied is returned when a live lease is held by another holder
	ErrLeaseDenied = fmt.Errorf("lease denied: %w", services.ErrLeaseUnavailable)

	// ErrLeaseLost is returned when a renewal finds the lease expired or taken over
	ErrLeaseLost = fmt.Errorf("lease lost: %w", services.ErrLeaseUnavailable)
)

// Handle is the caller's proof of lease ownership
type Handle struct {
	Owner      string
	Holder     string
	Token      uuid.UUID
	TTL        time.Duration
	AcquiredAt time.Time
	RenewedAt  time.Time
	ExpiresAt  time.Time
}

// Manager acquires, renews and releases named leases for one process identity
type Manager struct {
	repo   repositories.LeaseRepository
	holder string
	clock  clock.Clock
	logger *zap.Logger
}

// NewManager creates a new lease Manager
func NewManager(repo repositories.LeaseRepository, holder string, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		repo:   repo,
		holder: holder,
		clock:  clock.Or(clk),
		logger: logger,
	}
}

// Holder returns the process identity written into acquired leases
func (m *Manager) Holder() string {
	return m.holder
}

// Acquire takes the lease for owner, or returns ErrLeaseDenied when another
// holder has a live lease. It never blocks waiting for the lease.
func (m *Manager) Acquire(ctx context.Context, owner string, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}

	now := m.clock.Now()
	lease := &models.Lease{
		Owner:      owner,
		Holder:     m.holder,
		Token:      uuid.New(),
		AcquiredAt: now,
		RenewedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	ok, err := m.repo.TryAcquire(ctx, lease)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", owner, err)
	}
	if !ok {
		m.logger.Debug("lease denied", zap.String("owner", owner), zap.String("holder", m.holder))
		return nil, ErrLeaseDenied
	}

	m.logger.Info("lease acquired",
		zap.String("owner", owner),
		zap.String("holder", m.holder),
		zap.Time("expires_at", lease.ExpiresAt),
	)

	return &Handle{
		Owner:      owner,
		Holder:     m.holder,
		Token:      lease.Token,
		TTL:        ttl,
		AcquiredAt: now,
		RenewedAt:  now,
		ExpiresAt:  lease.ExpiresAt,
	}, nil
}

// Renew extends the lease by its TTL. It returns ErrLeaseLost when the token no
// longer matches or the lease already expired; the caller must stop working.
func (m *Manager) Renew(ctx context.Context, h *Handle) (*Handle, error) {
	if h == nil {
		return nil, ErrLeaseLost
	}

	now := m.clock.Now()
	expiresAt := now.Add(h.TTL)

	ok, err := m.repo.Renew(ctx, h.Owner, h.Token, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to renew lease %s: %w", h.Owner, err)
	}
	if !ok {
		m.logger.Warn("lease lost", zap.String("owner", h.Owner), zap.String("holder", h.Holder))
		return nil, ErrLeaseLost
	}

	renewed := *h
	renewed.RenewedAt = now
	renewed.ExpiresAt = expiresAt
	return &renewed, nil
}

// Heartbeat renews h when at least interval has elapsed since the last
// renewal, and returns h unchanged otherwise.
func (m *Manager) Heartbeat(ctx context.Context, h *Handle, interval time.Duration) (*Handle, error) {
	if h == nil {
		return nil, ErrLeaseLost
	}
	if m.clock.Now().Sub(h.RenewedAt) < interval {
		return h, nil
	}
	return m.Renew(ctx, h)
}

// Release gives up the lease. Only the caller's own row is deleted.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if err := m.repo.Release(ctx, h.Owner, h.Token); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", h.Owner, err)
	}
	m.logger.Info("lease released", zap.String("owner", h.Owner), zap.String("holder", h.Holder))
	return nil
}

// Current returns the stored lease row for owner, or nil when none exists
func (m *Manager) Current(ctx context.Context, owner string) (*models.Lease, error) {
	l, err := m.repo.Get(ctx, owner)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lease %s: %w", owner, err)
	}
	return l, nil
}

// CampaignOwner returns the lease name guarding a campaign's orchestrator runs
func CampaignOwner(campaignID int64) string {
	return fmt.Sprintf("campaign:%d", campaignID)
}
