package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Action tests
func TestNewAction(t *testing.T) {
	notBefore := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	action := NewAction("key-1", ActionTypeNoopProbe, json.RawMessage(`{"a":1}`), notBefore, 5)

	assert.Equal(t, "key-1", action.IdempotencyKey)
	assert.Equal(t, ActionTypeNoopProbe, action.ActionType)
	assert.Equal(t, ActionStatusPending, action.Status)
	assert.Equal(t, notBefore, action.NotBefore)
	assert.Equal(t, 0, action.Attempts)
	assert.Equal(t, 5, action.MaxAttempts)
	assert.JSONEq(t, `{"a":1}`, string(action.Payload))
	assert.False(t, action.CreatedAt.IsZero())
}

func TestNewAction_Defaults(t *testing.T) {
	action := NewAction("key-2", ActionTypeOutreachEmail, nil, time.Time{}, 3)

	assert.JSONEq(t, `{}`, string(action.Payload))
	assert.False(t, action.NotBefore.IsZero())
	assert.Equal(t, time.UTC, action.NotBefore.Location())
}

func TestActionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   ActionStatus
		terminal bool
	}{
		{ActionStatusPending, false},
		{ActionStatusRunning, false},
		{ActionStatusFailed, false},
		{ActionStatusDone, true},
		{ActionStatusDLQ, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestKnownActionTypes(t *testing.T) {
	assert.ElementsMatch(t, []ActionType{
		ActionTypeDistributionSend,
		ActionTypeOutreachEmail,
		ActionTypeNoopProbe,
	}, KnownActionTypes)
}

// Control flags tests
func TestControlFlags_CanExecute(t *testing.T) {
	assert.True(t, (&ControlFlags{}).CanExecute())
	assert.True(t, (&ControlFlags{ProofMode: true}).CanExecute())
	assert.False(t, (&ControlFlags{Paused: true}).CanExecute())
	assert.False(t, (&ControlFlags{Killed: true}).CanExecute())
}

// Lease tests
func TestLease_IsLive(t *testing.T) {
	now := time.Now()
	lease := &Lease{Owner: "aol-tick", ExpiresAt: now.Add(time.Second)}

	assert.True(t, lease.IsLive(now))
	assert.False(t, lease.IsLive(now.Add(time.Second)))
	assert.False(t, lease.IsLive(now.Add(time.Minute)))
}

func TestLease_TokenNotSerialized(t *testing.T) {
	lease := Lease{Owner: "aol-tick", Holder: "host-1", Token: uuid.New()}

	data, err := json.Marshal(lease)
	require.NoError(t, err)
	assert.NotContains(t, string(data), lease.Token.String())
}

// Execution log tests
func TestExecutionLog_WithArtifact(t *testing.T) {
	entry := NewExecutionLog(7, LogLevelInfo, "sent").WithArtifact("send_attempts/3", "abc")

	require.NotNil(t, entry.ArtifactRef)
	require.NotNil(t, entry.ArtifactSHA256)
	assert.Equal(t, "send_attempts/3", *entry.ArtifactRef)
	assert.Equal(t, "abc", *entry.ArtifactSHA256)

	bare := NewExecutionLog(7, LogLevelWarn, "deferred").WithArtifact("", "")
	assert.Nil(t, bare.ArtifactRef)
	assert.Nil(t, bare.ArtifactSHA256)
}

// Lead tests
func TestLead_Domain(t *testing.T) {
	tests := []struct {
		email  string
		domain string
	}{
		{"Alice@Example.COM ", "example.com"},
		{"bob@sub.example.org", "sub.example.org"},
		{"no-at-sign", ""},
		{"trailing@", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			lead := &Lead{Email: tt.email}
			assert.Equal(t, tt.domain, lead.Domain())
		})
	}
}

func TestConsentStatus_IsAffirmative(t *testing.T) {
	assert.True(t, ConsentGranted.IsAffirmative())
	assert.True(t, ConsentLegitimateInterest.IsAffirmative())
	assert.False(t, ConsentUnknown.IsAffirmative())
	assert.False(t, ConsentDenied.IsAffirmative())
	assert.False(t, ConsentWithdrawn.IsAffirmative())
	assert.False(t, ConsentStatus("").IsAffirmative())
}

// Distribution job tests
func TestDistributionKey(t *testing.T) {
	assert.Equal(t, "12:345:2", DistributionKey(12, 345, 2))
}

func TestNewDistributionJob(t *testing.T) {
	now := time.Now().UTC()
	campaign := &Campaign{ID: 4, Channel: "email", MaxSteps: 3}
	lead := &Lead{ID: 9, CampaignID: 4, StepIndex: 1}

	job := NewDistributionJob(campaign, lead, 3, now)

	assert.Equal(t, "4:9:1", job.IdempotencyKey)
	assert.Equal(t, "email", job.Channel)
	assert.Equal(t, DistributionJobQueued, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, now, job.CreatedAt)
}

// Orchestrator run tests
func TestNewCampaignOrchestratorRun(t *testing.T) {
	now := time.Now().UTC()
	run := NewCampaignOrchestratorRun(4, "host-1", now.Add(time.Minute), now)

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, now, run.StartedAt)
	assert.Equal(t, now, run.HeartbeatAt)
	assert.Nil(t, run.CompletedAt)
}

func TestCampaignOrchestratorRun_Fail(t *testing.T) {
	run := NewCampaignOrchestratorRun(4, "host-1", time.Now(), time.Now())

	run.Fail(errors.New("first"))
	run.Fail(errors.New("second"))

	assert.Equal(t, 2, run.AttemptsFailed)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "second", *run.LastError)
}

// Audit log tests
func TestNewAuditLog(t *testing.T) {
	log := NewAuditLog("operator@example.com", AuditActionKill)

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, "operator@example.com", log.Actor)
	assert.Equal(t, AuditActionKill, log.Action)
	assert.JSONEq(t, `{}`, string(log.Details))
	assert.False(t, log.Timestamp.IsZero())
}

func TestAuditLog_BuilderMethods(t *testing.T) {
	log := NewAuditLog("ops", AuditActionRequeue).
		WithDetails(map[string]interface{}{"action_id": 42}).
		WithRequest("req-1")

	assert.JSONEq(t, `{"action_id":42}`, string(log.Details))
	assert.Equal(t, "req-1", log.RequestID)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "actions", Action{}.TableName())
	assert.Equal(t, "leases", Lease{}.TableName())
	assert.Equal(t, "control_flags", ControlFlags{}.TableName())
	assert.Equal(t, "tick_ledger", TickEntry{}.TableName())
	assert.Equal(t, "execution_logs", ExecutionLog{}.TableName())
	assert.Equal(t, "campaign_orchestrator_runs", CampaignOrchestratorRun{}.TableName())
	assert.Equal(t, "distribution_jobs", DistributionJob{}.TableName())
	assert.Equal(t, "send_attempts", SendAttempt{}.TableName())
	assert.Equal(t, "channel_quota_usage", ChannelQuotaUsage{}.TableName())
	assert.Equal(t, "operator_audit_logs", AuditLog{}.TableName())
}
