// Package testutil provides an in-memory implementation of every repository
// interface for scenario tests that exercise the scheduler and orchestrator
// without a database.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/autonomy-orchestrator/models"
	"github.com/upb/autonomy-orchestrator/repositories"
)

// Store holds all tables behind one mutex
type Store struct {
	mu sync.Mutex

	flags         models.ControlFlags
	leases        map[string]models.Lease
	actions       map[int64]*models.Action
	actionKeys    map[string]int64
	nextActionID  int64
	ticks         []*models.TickEntry
	execLogs      []*models.ExecutionLog
	campaigns     map[int64]*models.Campaign
	leads         map[int64]*models.Lead
	suppressions  []models.Suppression
	unsubscribes  []models.Unsubscribe
	runs          map[uuid.UUID]*models.CampaignOrchestratorRun
	jobs          map[string]*models.DistributionJob
	nextJobID     int64
	quota         map[string]int
	sendAttempts  []*models.SendAttempt
	auditLogs     []*models.AuditLog
	failNextClaim error
}

// NewStore creates an empty store with the control flags row seeded
func NewStore() *Store {
	return &Store{
		flags:      models.ControlFlags{Version: 1, UpdatedBy: "migration", UpdatedAt: time.Now().UTC()},
		leases:     make(map[string]models.Lease),
		actions:    make(map[int64]*models.Action),
		actionKeys: make(map[string]int64),
		campaigns:  make(map[int64]*models.Campaign),
		leads:      make(map[int64]*models.Lead),
		runs:       make(map[uuid.UUID]*models.CampaignOrchestratorRun),
		jobs:       make(map[string]*models.DistributionJob),
		quota:      make(map[string]int),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		ControlFlags:     flagRepo{s},
		Leases:           leaseRepo{s},
		Actions:          actionRepo{s},
		Ticks:            tickRepo{s},
		ExecutionLogs:    execLogRepo{s},
		Campaigns:        campaignRepo{s},
		Leads:            leadRepo{s},
		Suppressions:     suppressionRepo{s},
		CampaignRuns:     runRepo{s},
		DistributionJobs: jobRepo{s},
		Quotas:           quotaRepo{s},
		SendAttempts:     sendAttemptRepo{s},
		AuditLogs:        auditRepo{s},
	}
}

// TransactionManager returns a manager whose transactions run fn directly
func (s *Store) TransactionManager() repositories.TransactionManager {
	return txManager{}
}

// Seeding and inspection helpers

// AddCampaign inserts a campaign
func (s *Store) AddCampaign(c *models.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
}

// AddLead inserts a lead
func (s *Store) AddLead(l *models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.leads[l.ID] = &cp
}

// AddSuppression inserts an active suppression
func (s *Store) AddSuppression(kind models.SuppressionKind, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressions = append(s.suppressions, models.Suppression{Kind: kind, Value: value, Active: true})
}

// AddUnsubscribe inserts an active unsubscribe
func (s *Store) AddUnsubscribe(email, identityHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes = append(s.unsubscribes, models.Unsubscribe{Email: email, IdentityHash: identityHash, Active: true})
}

// SetFlags overwrites the control flags
func (s *Store) SetFlags(paused, killed, proofMode bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Paused = paused
	s.flags.Killed = killed
	s.flags.ProofMode = proofMode
	s.flags.Version++
}

// PutLease overwrites a lease row, e.g. to simulate another holder
func (s *Store) PutLease(l models.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[l.Owner] = l
}

// Action returns a copy of an action by ID
func (s *Store) Action(id int64) *models.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// Actions returns copies of all actions ordered by ID
func (s *Store) Actions() []*models.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Action, 0, len(s.actions))
	for _, a := range s.actions {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ticks returns all tick entries in insertion order
func (s *Store) Ticks() []models.TickEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TickEntry, len(s.ticks))
	for i, t := range s.ticks {
		out[i] = *t
	}
	return out
}

// ExecutionLogs returns all execution log entries in insertion order
func (s *Store) ExecutionLogs() []models.ExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ExecutionLog, len(s.execLogs))
	for i, l := range s.execLogs {
		out[i] = *l
	}
	return out
}

// SendAttempts returns all recorded send attempts
func (s *Store) SendAttempts() []models.SendAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SendAttempt, len(s.sendAttempts))
	for i, a := range s.sendAttempts {
		out[i] = *a
	}
	return out
}

// Jobs returns copies of all distribution jobs ordered by ID
func (s *Store) Jobs() []models.DistributionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DistributionJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditLogs returns all audit entries in insertion order
func (s *Store) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.auditLogs))
	for i, l := range s.auditLogs {
		out[i] = *l
	}
	return out
}

// QuotaUsed returns the stored counter for channel on day
func (s *Store) QuotaUsed(channel string, day time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota[quotaKey(channel, day)]
}

// FailNextClaim makes the next ClaimDue call return err
func (s *Store) FailNextClaim(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextClaim = err
}

func quotaKey(channel string, day time.Time) string {
	return channel + "|" + day.UTC().Format("2006-01-02")
}

// Transactions

type txManager struct{}

type noopTx struct{ ctx context.Context }

func (t noopTx) Commit() error            { return nil }
func (t noopTx) Rollback() error          { return nil }
func (t noopTx) Context() context.Context { return t.ctx }

func (txManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return noopTx{ctx: ctx}, nil
}

func (txManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, noopTx{ctx: ctx})
}

// Control flags

type flagRepo struct{ s *Store }

func (r flagRepo) Get(ctx context.Context) (*models.ControlFlags, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f := r.s.flags
	return &f, nil
}

func (r flagRepo) Update(ctx context.Context, actor string, fn func(flags *models.ControlFlags) error) (*models.ControlFlags, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f := r.s.flags
	if err := fn(&f); err != nil {
		return nil, err
	}
	f.Version = r.s.flags.Version + 1
	f.UpdatedBy = actor
	f.UpdatedAt = time.Now().UTC()
	r.s.flags = f
	out := f
	return &out, nil
}

// Leases

type leaseRepo struct{ s *Store }

func (r leaseRepo) TryAcquire(ctx context.Context, lease *models.Lease) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.leases[lease.Owner]; ok && cur.ExpiresAt.After(lease.AcquiredAt) {
		return false, nil
	}
	r.s.leases[lease.Owner] = *lease
	return true, nil
}

func (r leaseRepo) Renew(ctx context.Context, owner string, token uuid.UUID, now, expiresAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.leases[owner]
	if !ok || cur.Token != token || !cur.ExpiresAt.After(now) {
		return false, nil
	}
	cur.RenewedAt = now
	cur.ExpiresAt = expiresAt
	r.s.leases[owner] = cur
	return true, nil
}

func (r leaseRepo) Release(ctx context.Context, owner string, token uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.leases[owner]; ok && cur.Token == token {
		delete(r.s.leases, owner)
	}
	return nil
}

func (r leaseRepo) Get(ctx context.Context, owner string) (*models.Lease, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.leases[owner]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &cur, nil
}

// Actions

type actionRepo struct{ s *Store }

func copyAction(a *models.Action) *models.Action {
	cp := *a
	cp.Payload = append(json.RawMessage(nil), a.Payload...)
	return &cp
}

func (r actionRepo) Insert(ctx context.Context, action *models.Action) (bool, *models.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.actionKeys[action.IdempotencyKey]; ok {
		return false, copyAction(r.s.actions[id]), nil
	}
	r.s.nextActionID++
	stored := copyAction(action)
	stored.ID = r.s.nextActionID
	r.s.actions[stored.ID] = stored
	r.s.actionKeys[stored.IdempotencyKey] = stored.ID
	action.ID = stored.ID
	return true, copyAction(stored), nil
}

func (r actionRepo) GetByID(ctx context.Context, id int64) (*models.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.actions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return copyAction(a), nil
}

func (r actionRepo) GetByKey(ctx context.Context, key string) (*models.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.actionKeys[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return copyAction(r.s.actions[id]), nil
}

func (r actionRepo) sorted(match func(a *models.Action) bool) []*models.Action {
	out := make([]*models.Action, 0)
	for _, a := range r.s.actions {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NotBefore.Equal(out[j].NotBefore) {
			return out[i].NotBefore.Before(out[j].NotBefore)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r actionRepo) ClaimDue(ctx context.Context, holder string, now time.Time, limit int) ([]*models.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failNextClaim; err != nil {
		r.s.failNextClaim = nil
		return nil, err
	}
	due := r.sorted(func(a *models.Action) bool {
		return (a.Status == models.ActionStatusPending || a.Status == models.ActionStatusFailed) && !a.NotBefore.After(now)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*models.Action, 0, len(due))
	for _, a := range due {
		h := holder
		at := now
		a.Status = models.ActionStatusRunning
		a.ClaimedBy = &h
		a.ClaimedAt = &at
		a.UpdatedAt = now
		out = append(out, copyAction(a))
	}
	return out, nil
}

func (r actionRepo) transition(id int64, from []models.ActionStatus, apply func(a *models.Action)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.actions[id]
	if !ok {
		return repositories.ErrStateConflict
	}
	for _, st := range from {
		if a.Status == st {
			apply(a)
			return nil
		}
	}
	return repositories.ErrStateConflict
}

func (r actionRepo) MarkDone(ctx context.Context, id int64, now time.Time) error {
	return r.transition(id, []models.ActionStatus{models.ActionStatusRunning}, func(a *models.Action) {
		a.Status = models.ActionStatusDone
		a.CompletedAt = &now
		a.UpdatedAt = now
	})
}

func (r actionRepo) MarkFailed(ctx context.Context, id int64, status models.ActionStatus, attempts int, notBefore time.Time, lastError string, now time.Time) error {
	return r.transition(id, []models.ActionStatus{models.ActionStatusRunning}, func(a *models.Action) {
		a.Status = status
		a.Attempts = attempts
		a.NotBefore = notBefore
		a.LastError = &lastError
		a.ClaimedBy = nil
		a.ClaimedAt = nil
		a.UpdatedAt = now
		if status == models.ActionStatusDLQ {
			a.CompletedAt = &now
		}
	})
}

func (r actionRepo) Release(ctx context.Context, id int64, now time.Time) error {
	return r.transition(id, []models.ActionStatus{models.ActionStatusRunning}, func(a *models.Action) {
		a.Status = models.ActionStatusPending
		a.ClaimedBy = nil
		a.ClaimedAt = nil
		a.UpdatedAt = now
	})
}

func (r actionRepo) ReleaseUntil(ctx context.Context, id int64, notBefore, now time.Time) error {
	return r.transition(id, []models.ActionStatus{models.ActionStatusRunning}, func(a *models.Action) {
		a.Status = models.ActionStatusPending
		a.ClaimedBy = nil
		a.ClaimedAt = nil
		a.NotBefore = notBefore
		a.UpdatedAt = now
	})
}

func (r actionRepo) Rearm(ctx context.Context, id int64, now time.Time) (bool, error) {
	err := r.transition(id, []models.ActionStatus{models.ActionStatusFailed, models.ActionStatusDLQ}, func(a *models.Action) {
		a.Status = models.ActionStatusPending
		a.Attempts = 0
		a.NotBefore = now
		a.LastError = nil
		a.CompletedAt = nil
		a.UpdatedAt = now
	})
	if errors.Is(err, repositories.ErrStateConflict) {
		return false, nil
	}
	return err == nil, err
}

func (r actionRepo) ListStaleRunning(ctx context.Context, claimedBefore time.Time, limit int) ([]*models.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stale := r.sorted(func(a *models.Action) bool {
		return a.Status == models.ActionStatusRunning && a.ClaimedAt != nil && a.ClaimedAt.Before(claimedBefore)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	out := make([]*models.Action, len(stale))
	for i, a := range stale {
		out[i] = copyAction(a)
	}
	return out, nil
}

func (r actionRepo) ListByStatus(ctx context.Context, status models.ActionStatus, limit, offset int) ([]*models.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := r.sorted(func(a *models.Action) bool { return a.Status == status })
	if offset >= len(matched) {
		return []*models.Action{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*models.Action, len(matched))
	for i, a := range matched {
		out[i] = copyAction(a)
	}
	return out, nil
}

func (r actionRepo) CountByStatus(ctx context.Context) (*models.QueueDepth, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	depth := &models.QueueDepth{}
	for _, a := range r.s.actions {
		switch a.Status {
		case models.ActionStatusPending:
			depth.Pending++
		case models.ActionStatusRunning:
			depth.Running++
		case models.ActionStatusFailed:
			depth.Retry++
		case models.ActionStatusDLQ:
			depth.DLQ++
		case models.ActionStatusDone:
			depth.Done++
		}
	}
	return depth, nil
}

// Tick ledger and execution logs

type tickRepo struct{ s *Store }

func (r tickRepo) Insert(ctx context.Context, entry *models.TickEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = int64(len(r.s.ticks) + 1)
	cp := *entry
	r.s.ticks = append(r.s.ticks, &cp)
	return nil
}

func (r tickRepo) Latest(ctx context.Context) (*models.TickEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(r.s.ticks) == 0 {
		return nil, repositories.ErrNotFound
	}
	cp := *r.s.ticks[len(r.s.ticks)-1]
	return &cp, nil
}

func (r tickRepo) List(ctx context.Context, limit, offset int) ([]*models.TickEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.TickEntry, 0, limit)
	for i := len(r.s.ticks) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *r.s.ticks[i]
		out = append(out, &cp)
	}
	return out, nil
}

type execLogRepo struct{ s *Store }

func (r execLogRepo) Insert(ctx context.Context, entry *models.ExecutionLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = int64(len(r.s.execLogs) + 1)
	cp := *entry
	r.s.execLogs = append(r.s.execLogs, &cp)
	return nil
}

func (r execLogRepo) ListByAction(ctx context.Context, actionID int64) ([]*models.ExecutionLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.ExecutionLog, 0)
	for _, l := range r.s.execLogs {
		if l.ActionID == actionID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Campaigns, leads and deny-lists

type campaignRepo struct{ s *Store }

func (r campaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r campaignRepo) ListActive(ctx context.Context) ([]*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Campaign, 0)
	for _, c := range r.s.campaigns {
		if c.Status == models.CampaignStatusActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type leadRepo struct{ s *Store }

func (r leadRepo) ListEligible(ctx context.Context, campaignID int64, now time.Time, maxSteps, limit int) ([]*models.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Lead, 0)
	for _, l := range r.s.leads {
		if l.CampaignID != campaignID || l.StopFollowUp || l.StepIndex >= maxSteps {
			continue
		}
		if l.Status != models.LeadStatusEnriched && l.Status != models.LeadStatusContacted {
			continue
		}
		if l.NextActionAt == nil || l.NextActionAt.After(now) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextActionAt.Equal(*out[j].NextActionAt) {
			return out[i].NextActionAt.Before(*out[j].NextActionAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type suppressionRepo struct{ s *Store }

func (r suppressionRepo) IsSuppressed(ctx context.Context, email, domain, identityHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sup := range r.s.suppressions {
		if !sup.Active {
			continue
		}
		switch sup.Kind {
		case models.SuppressionKindEmail:
			if email != "" && strings.EqualFold(sup.Value, email) {
				return true, nil
			}
		case models.SuppressionKindDomain:
			if domain != "" && strings.EqualFold(sup.Value, domain) {
				return true, nil
			}
		case models.SuppressionKindIdentityHash:
			if identityHash != "" && sup.Value == identityHash {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r suppressionRepo) IsUnsubscribed(ctx context.Context, email, identityHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.unsubscribes {
		if !u.Active {
			continue
		}
		if email != "" && strings.EqualFold(u.Email, email) {
			return true, nil
		}
		if identityHash != "" && u.IdentityHash == identityHash {
			return true, nil
		}
	}
	return false, nil
}

// Campaign runs and distribution jobs

type runRepo struct{ s *Store }

func (r runRepo) Create(ctx context.Context, run *models.CampaignOrchestratorRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *run
	r.s.runs[run.ID] = &cp
	return nil
}

func (r runRepo) Update(ctx context.Context, run *models.CampaignOrchestratorRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.runs[run.ID]; !ok {
		return repositories.ErrNotFound
	}
	cp := *run
	r.s.runs[run.ID] = &cp
	return nil
}

func (r runRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CampaignOrchestratorRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (r runRepo) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignOrchestratorRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.CampaignOrchestratorRun, 0)
	for _, run := range r.s.runs {
		if run.CampaignID == campaignID {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type jobRepo struct{ s *Store }

func (r jobRepo) Insert(ctx context.Context, job *models.DistributionJob) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.IdempotencyKey]; ok {
		return false, nil
	}
	r.s.nextJobID++
	job.ID = r.s.nextJobID
	cp := *job
	r.s.jobs[job.IdempotencyKey] = &cp
	return true, nil
}

func (r jobRepo) GetByKey(ctx context.Context, key string) (*models.DistributionJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r jobRepo) MarkSent(ctx context.Context, key string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[key]
	if !ok {
		return repositories.ErrNotFound
	}
	j.Status = models.DistributionJobSent
	j.NextRetryAt = nil
	j.UpdatedAt = now
	return nil
}

func (r jobRepo) MarkFailed(ctx context.Context, key string, lastError string, nextRetryAt *time.Time, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[key]
	if !ok {
		return repositories.ErrNotFound
	}
	j.Status = models.DistributionJobFailed
	if nextRetryAt != nil {
		j.Status = models.DistributionJobQueued
	}
	j.RetryCount++
	j.LastError = &lastError
	j.NextRetryAt = nextRetryAt
	j.UpdatedAt = now
	return nil
}

// Safety

type quotaRepo struct{ s *Store }

func (r quotaRepo) SentOn(ctx context.Context, channel string, day time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.quota[quotaKey(channel, day)], nil
}

func (r quotaRepo) Increment(ctx context.Context, channel string, day time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := quotaKey(channel, day)
	r.s.quota[k]++
	return r.s.quota[k], nil
}

type sendAttemptRepo struct{ s *Store }

func (r sendAttemptRepo) Insert(ctx context.Context, attempt *models.SendAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attempt.ID = int64(len(r.s.sendAttempts) + 1)
	cp := *attempt
	r.s.sendAttempts = append(r.s.sendAttempts, &cp)
	return nil
}

func (r sendAttemptRepo) Summary(ctx context.Context, since time.Time) (*models.ProofSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := &models.ProofSummary{Since: since}
	for _, a := range r.s.sendAttempts {
		if a.CreatedAt.Before(since) {
			continue
		}
		out.Attempted++
		if a.ActuallySent {
			out.ExternalSendCount++
		}
		if a.BlockedReason != nil {
			out.Blocked++
		}
	}
	return out, nil
}

// Audit

type auditRepo struct{ s *Store }

func (r auditRepo) Insert(ctx context.Context, log *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *log
	r.s.auditLogs = append(r.s.auditLogs, &cp)
	return nil
}

func (r auditRepo) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.AuditLog, 0, limit)
	for i := len(r.s.auditLogs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *r.s.auditLogs[i]
		out = append(out, &cp)
	}
	return out, nil
}
