package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/autonomy-orchestrator/internal/testutil"
	"github.com/upb/autonomy-orchestrator/services"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*testutil.Store, *testutil.Clock) {
	t.Helper()
	return testutil.NewStore(), testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestManager_AcquireRenewRelease(t *testing.T) {
	store, clk := setup(t)
	repos := store.Repositories()
	m := NewManager(repos.Leases, "host-a", clk, zap.NewNop())
	ctx := context.Background()

	h, err := m.Acquire(ctx, "aol-tick", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "host-a", h.Holder)
	assert.Equal(t, clk.Now().Add(time.Minute), h.ExpiresAt)

	clk.Advance(30 * time.Second)
	renewed, err := m.Renew(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Minute), renewed.ExpiresAt)
	assert.Equal(t, h.Token, renewed.Token)

	require.NoError(t, m.Release(ctx, renewed))
	cur, err := m.Current(ctx, "aol-tick")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestManager_SingleHolder(t *testing.T) {
	store, clk := setup(t)
	repos := store.Repositories()
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		denied  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := NewManager(repos.Leases, "host", clk, zap.NewNop())
			_, err := m.Acquire(ctx, "aol-tick", time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if errors.Is(err, ErrLeaseDenied) {
				denied++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, workers-1, denied)
}

func TestManager_StaleTakeover(t *testing.T) {
	store, clk := setup(t)
	repos := store.Repositories()
	ctx := context.Background()
	a := NewManager(repos.Leases, "host-a", clk, zap.NewNop())
	b := NewManager(repos.Leases, "host-b", clk, zap.NewNop())

	ha, err := a.Acquire(ctx, "aol-tick", time.Minute)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "aol-tick", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseDenied)

	// holder a crashes without releasing; once expired, b takes over
	clk.Advance(time.Minute)
	hb, err := b.Acquire(ctx, "aol-tick", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "host-b", hb.Holder)

	_, err = a.Renew(ctx, ha)
	assert.ErrorIs(t, err, ErrLeaseLost)

	// a stale release must not remove b's lease
	require.NoError(t, a.Release(ctx, ha))
	cur, err := b.Current(ctx, "aol-tick")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "host-b", cur.Holder)
}

func TestManager_RenewAfterExpiry(t *testing.T) {
	store, clk := setup(t)
	m := NewManager(store.Repositories().Leases, "host-a", clk, zap.NewNop())
	ctx := context.Background()

	h, err := m.Acquire(ctx, "aol-tick", time.Minute)
	require.NoError(t, err)

	clk.Advance(61 * time.Second)
	_, err = m.Renew(ctx, h)
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.True(t, services.IsCoordinationError(err))
}

func TestManager_Heartbeat(t *testing.T) {
	store, clk := setup(t)
	m := NewManager(store.Repositories().Leases, "host-a", clk, zap.NewNop())
	ctx := context.Background()

	h, err := m.Acquire(ctx, "aol-tick", 90*time.Second)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	same, err := m.Heartbeat(ctx, h, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, h.ExpiresAt, same.ExpiresAt)

	clk.Advance(15 * time.Second)
	renewed, err := m.Heartbeat(ctx, same, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(90*time.Second), renewed.ExpiresAt)

	_, err = m.Heartbeat(ctx, nil, time.Second)
	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestManager_AcquireRejectsNonPositiveTTL(t *testing.T) {
	store, clk := setup(t)
	m := NewManager(store.Repositories().Leases, "host-a", clk, zap.NewNop())

	_, err := m.Acquire(context.Background(), "aol-tick", 0)
	assert.Error(t, err)
}

func TestCampaignOwner(t *testing.T) {
	assert.Equal(t, "campaign:42", CampaignOwner(42))
}
