package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/testutil"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/services/controls"
	"github.com/upb/autonomy-orchestrator/services/lease"
	"github.com/upb/autonomy-orchestrator/services/queue"
	"github.com/upb/autonomy-orchestrator/services/safety"
	"go.uber.org/zap"
)

type failingQueue struct{}

func (failingQueue) Depth(ctx context.Context) (*models.QueueDepth, error) {
	return nil, errors.New("database is down")
}

func newService(t *testing.T, store *testutil.Store, clk *testutil.Clock) (*Service, *queue.Service) {
	t.Helper()
	repos := store.Repositories()
	logger := zap.NewNop()
	policy := &config.Policy{Channels: map[string]config.ChannelPolicy{"email": {DailyLimit: 10}, "linkedin": {DailyLimit: 2}}}
	q := queue.NewService(repos.Actions, config.RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3}, nil, nil, clk, logger)
	svc := NewService(
		controls.NewService(repos.ControlFlags, nil, time.Second, clk, logger),
		lease.NewManager(repos.Leases, "worker-a", clk, logger),
		q,
		safety.NewGate(repos.Quotas, policy, 0, clk, logger),
		repos.Ticks,
		"aol-tick",
		clk,
		logger,
	)
	return svc, q
}

func TestSnapshot_Empty(t *testing.T) {
	store := testutil.NewStore()
	clk := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc, _ := newService(t, store, clk)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Lease)
	assert.Nil(t, snap.LastTick)
	assert.Equal(t, &models.QueueDepth{}, snap.Queue)
	assert.False(t, snap.Flags.Paused)
	require.Len(t, snap.Channels, 2)
}

func TestSnapshot_Populated(t *testing.T) {
	store := testutil.NewStore()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := testutil.NewClock(day.Add(9 * time.Hour))
	svc, q := newService(t, store, clk)
	repos := store.Repositories()
	ctx := context.Background()
	now := clk.Now()

	store.SetFlags(true, false, true)
	store.PutLease(models.Lease{Owner: "aol-tick", Holder: "worker-a", Token: uuid.New(), AcquiredAt: now, RenewedAt: now, ExpiresAt: now.Add(30 * time.Second)})
	require.NoError(t, repos.Ticks.Insert(ctx, &models.TickEntry{Holder: "worker-a", StartedAt: now, FinishedAt: now, Status: models.TickStatusPaused}))

	for _, key := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, queue.EnqueueRequest{IdempotencyKey: key, ActionType: models.ActionTypeNoopProbe})
		require.NoError(t, err)
	}
	claimed, err := q.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	_, err = q.Fail(ctx, claimed[0], errors.New("bad"), true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := repos.Quotas.Increment(ctx, "linkedin", now)
		require.NoError(t, err)
	}
	_, err = repos.Quotas.Increment(ctx, "email", now)
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	want := &Snapshot{
		GeneratedAt: now,
		Flags:       &models.ControlFlags{Paused: true, ProofMode: true},
		Lease: &LeaseStatus{
			Owner:     "aol-tick",
			Holder:    "worker-a",
			RenewedAt: now,
			ExpiresAt: now.Add(30 * time.Second),
			Live:      true,
		},
		LastTick: &models.TickEntry{ID: 1, Holder: "worker-a", StartedAt: now, FinishedAt: now, Status: models.TickStatusPaused},
		Queue:    &models.QueueDepth{Pending: 2, DLQ: 1},
		Channels: []ChannelStatus{
			{Channel: "email", Day: day, Sent: 1, Limit: 10, Remaining: 9},
			{Channel: "linkedin", Day: day, Sent: 3, Limit: 2, Remaining: 0},
		},
	}
	ignoreFlagMeta := cmpopts.IgnoreFields(models.ControlFlags{}, "Version", "UpdatedBy", "UpdatedAt")
	if diff := cmp.Diff(want, snap, ignoreFlagMeta); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	clk.Advance(time.Minute)
	snap, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Lease.Live)
}

func TestSnapshot_PropagatesErrors(t *testing.T) {
	store := testutil.NewStore()
	clk := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repos := store.Repositories()
	logger := zap.NewNop()

	svc := NewService(
		controls.NewService(repos.ControlFlags, nil, time.Second, clk, logger),
		lease.NewManager(repos.Leases, "worker-a", clk, logger),
		failingQueue{},
		safety.NewGate(repos.Quotas, nil, 0, clk, logger),
		repos.Ticks,
		"aol-tick",
		clk,
		logger,
	)

	_, err := svc.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is down")
}
