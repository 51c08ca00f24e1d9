package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/testutil"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
	"github.com/upb/autonomy-orchestrator/services/controls"
	"github.com/upb/autonomy-orchestrator/services/dispatch"
	"github.com/upb/autonomy-orchestrator/services/lease"
	"github.com/upb/autonomy-orchestrator/services/proof"
	"github.com/upb/autonomy-orchestrator/services/queue"
	"github.com/upb/autonomy-orchestrator/services/safety"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

const leaseName = "aol-tick"

var testRetry = config.RetryConfig{BaseDelay: 30 * time.Second, MaxDelay: time.Hour, MaxAttempts: 5}

type stubTransport struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubTransport) Deliver(ctx context.Context, destination string, msg *proof.Message) (*proof.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls++
	return &proof.Delivery{Ref: "gw-ok"}, nil
}

func (s *stubTransport) DefaultDestination() string {
	return "https://hooks.example.com/send"
}

func (s *stubTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type env struct {
	store     *testutil.Store
	repos     *repositories.Repositories
	clk       *testutil.Clock
	queue     *queue.Service
	ledger    *proof.Ledger
	transport *stubTransport
	sched     *Scheduler
}

type envOptions struct {
	registry     *dispatch.Registry
	policy       *config.Policy
	tickInterval time.Duration
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	store := testutil.NewStore()
	repos := store.Repositories()
	clk := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := zap.NewNop()

	registry := opts.registry
	if registry == nil {
		var err error
		registry, err = dispatch.NewDefaultRegistry(dispatch.Deps{Jobs: repos.DistributionJobs, Clock: clk, Logger: logger})
		require.NoError(t, err)
	}
	interval := opts.tickInterval
	if interval == 0 {
		interval = time.Second
	}

	e := &env{
		store:     store,
		repos:     repos,
		clk:       clk,
		queue:     queue.NewService(repos.Actions, testRetry, opts.policy, registry, clk, logger),
		ledger:    proof.NewLedger(repos.SendAttempts, clk, logger),
		transport: &stubTransport{},
	}

	sched, err := New(Config{
		LeaseName:         leaseName,
		TickInterval:      interval,
		LeaseTTL:          30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		BatchSize:         10,
	}, Deps{
		Leases:    lease.NewManager(repos.Leases, "worker-a", clk, logger),
		Flags:     controls.NewService(repos.ControlFlags, nil, time.Second, clk, logger),
		Queue:     e.queue,
		Registry:  registry,
		Gate:      safety.NewGate(repos.Quotas, opts.policy, 100, clk, logger),
		Ledger:    e.ledger,
		Guard:     proof.NewEgressGuard(false, nil),
		Transport: e.transport,
		Ticks:     repos.Ticks,
		Logs:      repos.ExecutionLogs,
		Clock:     clk,
		Logger:    logger,
	})
	require.NoError(t, err)
	e.sched = sched
	return e
}

func (e *env) enqueue(t *testing.T, key string, actionType models.ActionType, payload string) *models.Action {
	t.Helper()
	a, err := e.queue.Enqueue(context.Background(), queue.EnqueueRequest{
		IdempotencyKey: key,
		ActionType:     actionType,
		Payload:        []byte(payload),
	})
	require.NoError(t, err)
	return a
}

func (e *env) leaseRow(t *testing.T) *models.Lease {
	t.Helper()
	l, err := e.repos.Leases.Get(context.Background(), leaseName)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	return l
}

func (e *env) logsFor(actionID int64) []models.ExecutionLog {
	var out []models.ExecutionLog
	for _, l := range e.store.ExecutionLogs() {
		if l.ActionID == actionID {
			out = append(out, l)
		}
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{LeaseName: "aol-tick", TickInterval: time.Second, LeaseTTL: 30 * time.Second, HeartbeatInterval: 10 * time.Second, BatchSize: 5}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing lease name", func(c *Config) { c.LeaseName = "" }},
		{"zero interval", func(c *Config) { c.TickInterval = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"ttl not above heartbeat", func(c *Config) { c.LeaseTTL = c.HeartbeatInterval }},
		{"ttl shorter than an idle tick", func(c *Config) {
			c.TickInterval = time.Minute
			c.LeaseTTL = 30 * time.Second
		}},
		{"ttl equal to tick plus heartbeat", func(c *Config) { c.LeaseTTL = c.TickInterval + c.HeartbeatInterval }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestRunOnce_IdleTick(t *testing.T) {
	e := newEnv(t, envOptions{})

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusIdle, entry.Status)
	assert.Equal(t, "worker-a", entry.Holder)

	require.Len(t, e.store.Ticks(), 1)
	l := e.leaseRow(t)
	require.NotNil(t, l)
	assert.Equal(t, "worker-a", l.Holder)
}

func TestRunOnce_ExecutesDueActions(t *testing.T) {
	e := newEnv(t, envOptions{})
	first := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)
	second := e.enqueue(t, "probe-2", models.ActionTypeNoopProbe, `{}`)

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusCompleted, entry.Status)
	assert.Equal(t, 2, entry.ActionsAttempted)
	assert.Equal(t, 2, entry.ActionsSucceeded)

	for _, a := range []*models.Action{first, second} {
		stored := e.store.Action(a.ID)
		assert.Equal(t, models.ActionStatusDone, stored.Status)
		logs := e.logsFor(a.ID)
		require.Len(t, logs, 1)
		assert.Equal(t, models.LogLevelInfo, logs[0].Level)
	}

	// done actions are not claimed again
	entry, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusIdle, entry.Status)
}

func TestRunOnce_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	e := newEnv(t, envOptions{})
	a := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)
	now := e.clk.Now()
	e.store.PutLease(models.Lease{Owner: leaseName, Holder: "worker-b", Token: uuid.New(), AcquiredAt: now, RenewedAt: now, ExpiresAt: now.Add(time.Minute)})

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusSkipped, entry.Status)
	assert.Equal(t, models.ActionStatusPending, e.store.Action(a.ID).Status)
	assert.Equal(t, "worker-b", e.leaseRow(t).Holder)
}

func TestRunOnce_TakesOverStaleLease(t *testing.T) {
	e := newEnv(t, envOptions{})
	now := e.clk.Now()
	e.store.PutLease(models.Lease{Owner: leaseName, Holder: "worker-b", Token: uuid.New(), AcquiredAt: now.Add(-time.Hour), RenewedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)})

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusIdle, entry.Status)
	assert.Equal(t, "worker-a", e.leaseRow(t).Holder)
}

func TestRunOnce_KillSwitch(t *testing.T) {
	e := newEnv(t, envOptions{})
	a := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)
	e.store.SetFlags(false, true, false)

	entry, err := e.sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrKilled)
	assert.Equal(t, models.TickStatusKilled, entry.Status)
	assert.Equal(t, models.ActionStatusPending, e.store.Action(a.ID).Status)
	assert.Nil(t, e.leaseRow(t), "lease is released when killed")
}

func TestRunOnce_PauseKeepsLeaseAlive(t *testing.T) {
	e := newEnv(t, envOptions{})
	a := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)
	e.store.SetFlags(true, false, false)

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusPaused, entry.Status)
	assert.Equal(t, 0, entry.ActionsAttempted)
	firstExpiry := e.leaseRow(t).ExpiresAt

	e.clk.Advance(20 * time.Second)
	entry, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusPaused, entry.Status)
	assert.True(t, e.leaseRow(t).ExpiresAt.After(firstExpiry), "paused ticks still renew the lease")
	assert.Equal(t, models.ActionStatusPending, e.store.Action(a.ID).Status)

	e.store.SetFlags(false, false, false)
	entry, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusCompleted, entry.Status)
	assert.Equal(t, models.ActionStatusDone, e.store.Action(a.ID).Status)
}

func TestRunOnce_ProofModeNeverSends(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.store.SetFlags(false, false, true)
	since := e.clk.Now()
	for _, key := range []string{"mail-1", "mail-2", "mail-3"} {
		e.enqueue(t, key, models.ActionTypeOutreachEmail, `{"to":"ana@example.org","subject":"hello"}`)
	}

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, entry.ActionsSucceeded)
	assert.Equal(t, 0, e.transport.Calls())
	assert.Equal(t, 0, e.store.QuotaUsed(dispatch.EmailChannel, e.clk.Now()))

	summary, err := e.ledger.Summary(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 0, summary.ExternalSendCount)

	for _, l := range e.store.ExecutionLogs() {
		assert.True(t, strings.HasPrefix(l.Message, "[dry-run]"), l.Message)
		require.NotNil(t, l.ArtifactRef)
		require.NotNil(t, l.ArtifactSHA256)
	}
}

func TestRunOnce_QuotaDenialDefersWithoutAttempt(t *testing.T) {
	policy := &config.Policy{Channels: map[string]config.ChannelPolicy{dispatch.EmailChannel: {DailyLimit: 1}}}
	e := newEnv(t, envOptions{policy: policy})
	first := e.enqueue(t, "mail-1", models.ActionTypeOutreachEmail, `{"to":"ana@example.org","subject":"one"}`)
	second := e.enqueue(t, "mail-2", models.ActionTypeOutreachEmail, `{"to":"bo@example.org","subject":"two"}`)
	probe := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusCompleted, entry.Status)
	assert.Equal(t, 2, entry.ActionsAttempted)
	assert.Equal(t, 2, entry.ActionsSucceeded)
	assert.Equal(t, 1, e.transport.Calls())
	assert.Equal(t, 1, e.store.QuotaUsed(dispatch.EmailChannel, e.clk.Now()))

	assert.Equal(t, models.ActionStatusDone, e.store.Action(first.ID).Status)
	assert.Equal(t, models.ActionStatusDone, e.store.Action(probe.ID).Status, "channel-less actions bypass the gate")

	deferred := e.store.Action(second.ID)
	assert.Equal(t, models.ActionStatusPending, deferred.Status)
	assert.Equal(t, 0, deferred.Attempts)
	logs := e.logsFor(second.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogLevelWarn, logs[0].Level)
	assert.Contains(t, logs[0].Message, "daily limit")
	assert.True(t, deferred.NotBefore.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))

	// the counter resets at midnight UTC
	e.clk.Set(time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC))
	_, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusDone, e.store.Action(second.ID).Status)
}

func TestRunOnce_BlockedChannelDoesNotStarveQueue(t *testing.T) {
	policy := &config.Policy{Channels: map[string]config.ChannelPolicy{dispatch.EmailChannel: {DailyLimit: 0}}}
	e := newEnv(t, envOptions{policy: policy})
	var mails []*models.Action
	for i := 0; i < 10; i++ {
		mails = append(mails, e.enqueue(t, fmt.Sprintf("mail-%d", i), models.ActionTypeOutreachEmail,
			`{"to":"ana@example.org","subject":"hello"}`))
	}
	e.clk.Advance(time.Second)
	noop := e.enqueue(t, "probe-late", models.ActionTypeNoopProbe, `{}`)

	for i := 0; i < 3; i++ {
		_, err := e.sched.RunOnce(context.Background())
		require.NoError(t, err)
		e.clk.Advance(time.Second)
	}

	assert.Equal(t, models.ActionStatusDone, e.store.Action(noop.ID).Status)
	assert.Equal(t, 0, e.transport.Calls())
	for _, m := range mails {
		got := e.store.Action(m.ID)
		assert.Equal(t, models.ActionStatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
		assert.True(t, got.NotBefore.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	}
}

func TestRunOnce_DistributionJobFollowsActionRetries(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.transport.err = errors.New("connection refused")
	ctx := context.Background()

	job := &models.DistributionJob{
		IdempotencyKey: models.DistributionKey(1, 2, 0),
		CampaignID:     1,
		LeadID:         2,
		Channel:        dispatch.EmailChannel,
		Status:         models.DistributionJobQueued,
		MaxRetries:     1,
	}
	inserted, err := e.repos.DistributionJobs.Insert(ctx, job)
	require.NoError(t, err)
	require.True(t, inserted)
	a, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
		IdempotencyKey: job.IdempotencyKey,
		ActionType:     models.ActionTypeDistributionSend,
		Payload:        []byte(`{"job_key":"1:2:0","campaign_id":1,"lead_id":2,"channel":"email","email":"ana@example.org"}`),
		MaxAttempts:    job.MaxRetries + 1,
	})
	require.NoError(t, err)

	_, err = e.sched.RunOnce(ctx)
	require.NoError(t, err)

	retrying := e.store.Action(a.ID)
	require.Equal(t, models.ActionStatusFailed, retrying.Status)
	got, err := e.repos.DistributionJobs.GetByKey(ctx, job.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, models.DistributionJobQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(retrying.NotBefore))
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "connection refused")

	e.clk.Set(retrying.NotBefore.Add(time.Second))
	_, err = e.sched.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.ActionStatusDLQ, e.store.Action(a.ID).Status)
	got, err = e.repos.DistributionJobs.GetByKey(ctx, job.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, models.DistributionJobFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
}

func TestRunOnce_FailureSchedulesRetry(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.transport.err = errors.New("connection refused")
	a := e.enqueue(t, "mail-1", models.ActionTypeOutreachEmail, `{"to":"ana@example.org","subject":"hello"}`)

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, entry.ActionsAttempted)
	assert.Equal(t, 0, entry.ActionsSucceeded)

	stored := e.store.Action(a.ID)
	assert.Equal(t, models.ActionStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, e.clk.Now().Add(30*time.Second), stored.NotBefore)

	logs := e.logsFor(a.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogLevelError, logs[0].Level)
	assert.Contains(t, logs[0].Message, "connection refused")
}

func TestRunOnce_PermanentFailureGoesToDLQ(t *testing.T) {
	e := newEnv(t, envOptions{})
	a := e.enqueue(t, "mail-1", models.ActionTypeOutreachEmail, `{"to":"nope","subject":"hello"}`)

	_, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusDLQ, e.store.Action(a.ID).Status)
	assert.Equal(t, 0, e.transport.Calls())
}

func TestRunOnce_HandlerPanicIsContained(t *testing.T) {
	registry := dispatch.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register(models.ActionTypeNoopProbe, dispatch.Registration{
		Handler: dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
			panic("handler bug")
		}),
	}))
	e := newEnv(t, envOptions{registry: registry})
	a := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusCompleted, entry.Status)
	assert.Equal(t, 1, entry.ActionsAttempted)
	assert.Equal(t, 0, entry.ActionsSucceeded)
	assert.Equal(t, models.ActionStatusFailed, e.store.Action(a.ID).Status)
}

func TestRunOnce_LeaseLostMidBatchAborts(t *testing.T) {
	registry := dispatch.NewRegistry(zap.NewNop())
	var e *env
	var once sync.Once
	require.NoError(t, registry.Register(models.ActionTypeNoopProbe, dispatch.Registration{
		Handler: dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
			once.Do(func() {
				now := e.clk.Now()
				e.store.PutLease(models.Lease{Owner: leaseName, Holder: "worker-b", Token: uuid.New(), AcquiredAt: now, RenewedAt: now, ExpiresAt: now.Add(time.Minute)})
				e.clk.Advance(15 * time.Second)
			})
			return &dispatch.Result{Message: "ok"}, nil
		}),
	}))
	e = newEnv(t, envOptions{registry: registry})
	first := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)
	second := e.enqueue(t, "probe-2", models.ActionTypeNoopProbe, `{}`)

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusAborted, entry.Status)
	assert.Equal(t, 1, entry.ActionsSucceeded)
	assert.Equal(t, models.ActionStatusDone, e.store.Action(first.ID).Status)
	assert.Equal(t, models.ActionStatusPending, e.store.Action(second.ID).Status)
	assert.Equal(t, "worker-b", e.leaseRow(t).Holder)

	// the next tick is denied while worker-b holds the lease
	entry, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusSkipped, entry.Status)
}

func TestRunOnce_KillMidBatchDefersRest(t *testing.T) {
	registry := dispatch.NewRegistry(zap.NewNop())
	var e *env
	require.NoError(t, registry.Register(models.ActionTypeNoopProbe, dispatch.Registration{
		Handler: dispatch.HandlerFunc(func(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
			e.store.SetFlags(false, true, false)
			return &dispatch.Result{}, nil
		}),
	}))
	e = newEnv(t, envOptions{registry: registry})
	first := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)
	second := e.enqueue(t, "probe-2", models.ActionTypeNoopProbe, `{}`)

	entry, err := e.sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrKilled)
	assert.Equal(t, models.TickStatusKilled, entry.Status)
	assert.Equal(t, models.ActionStatusDone, e.store.Action(first.ID).Status, "committed work is not rolled back")
	assert.Equal(t, models.ActionStatusPending, e.store.Action(second.ID).Status)
	assert.Nil(t, e.leaseRow(t))
}

func TestRunOnce_ReclaimsStaleRunningActions(t *testing.T) {
	e := newEnv(t, envOptions{})
	a := e.enqueue(t, "probe-1", models.ActionTypeNoopProbe, `{}`)
	_, err := e.queue.ClaimBatch(context.Background(), "crashed-worker", 10)
	require.NoError(t, err)

	e.clk.Advance(time.Minute)
	_, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)

	stored := e.store.Action(a.ID)
	assert.Equal(t, models.ActionStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "crashed-worker")
}

func TestRunOnce_ClaimErrorRecordsFailedTick(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.store.FailNextClaim(errors.New("connection reset by peer"))

	entry, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TickStatusFailed, entry.Status)
	assert.Contains(t, entry.Notes, "connection reset by peer")

	ticks := e.store.Ticks()
	require.Len(t, ticks, 1)
	assert.Equal(t, models.TickStatusFailed, ticks[0].Status)
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEnv(t, envOptions{tickInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.sched.Run(ctx) }()

	require.Eventually(t, func() bool { return len(e.store.Ticks()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Nil(t, e.leaseRow(t), "lease is released on shutdown")
}

func TestRun_HaltsOnKill(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEnv(t, envOptions{tickInterval: 5 * time.Millisecond})
	e.store.SetFlags(false, true, false)

	err := e.sched.Run(context.Background())
	assert.ErrorIs(t, err, ErrKilled)
	require.Len(t, e.store.Ticks(), 1)
	assert.Equal(t, models.TickStatusKilled, e.store.Ticks()[0].Status)
}
