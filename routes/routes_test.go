package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/autonomy-orchestrator/app"
	"github.com/upb/autonomy-orchestrator/config"
	"github.com/upb/autonomy-orchestrator/internal/testutil"
	"github.com/upb/autonomy-orchestrator/middleware"
	"github.com/upb/autonomy-orchestrator/models"
	"go.uber.org/zap"
)

const testSecret = "routes-test-secret"

type apiEnv struct {
	store    *testutil.Store
	clk      *testutil.Clock
	deps     *app.Dependencies
	handler  http.Handler
	operator string
	viewer   string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			StatusCacheTTL: time.Second,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Auth: config.AuthConfig{JWTSecret: testSecret, Issuer: "aol"},
		Scheduler: config.SchedulerConfig{
			HolderID:          "worker-a",
			LeaseName:         "aol-tick",
			TickInterval:      time.Second,
			LeaseTTL:          30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			BatchSize:         10,
		},
		Orchestrator: config.OrchestratorConfig{
			Interval:          time.Minute,
			LeaseTTL:          time.Minute,
			HeartbeatInterval: 10 * time.Second,
			LeadBatchSize:     50,
			Concurrency:       2,
			JobMaxRetries:     3,
		},
		Retry:  config.RetryConfig{BaseDelay: 30 * time.Second, MaxDelay: time.Hour, MaxAttempts: 5},
		Safety: config.SafetyConfig{DefaultDailyLimit: 100, EgressLock: true},
		Policy: &config.Policy{},
	}

	store := testutil.NewStore()
	clk := testutil.NewClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	deps, err := app.Wire(cfg, zap.NewNop(), app.Infrastructure{
		Repos: store.Repositories(),
		Tx:    store.TransactionManager(),
		Clock: clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	operator, err := middleware.SignToken(testSecret, "aol", "alice", middleware.RoleOperator, time.Hour, time.Now())
	require.NoError(t, err)
	viewer, err := middleware.SignToken(testSecret, "aol", "bob", middleware.RoleViewer, time.Hour, time.Now())
	require.NoError(t, err)

	return &apiEnv{
		store:    store,
		clk:      clk,
		deps:     deps,
		handler:  SetupRoutes(deps),
		operator: operator,
		viewer:   viewer,
	}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func TestHealthEndpoints(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/status", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Controls(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/controls", e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/controls/pause", e.viewer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/controls/pause", e.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var flags models.ControlFlags
	decodeData(t, w, &flags)
	assert.True(t, flags.Paused)
	assert.Equal(t, "alice", flags.UpdatedBy)

	w = e.do(t, http.MethodPut, "/api/v1/controls/proof-mode", e.operator, map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &flags)
	assert.True(t, flags.ProofMode)
	assert.True(t, flags.Paused)

	w = e.do(t, http.MethodPut, "/api/v1/controls/proof-mode", e.operator, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, op := range []string{"resume", "kill", "unkill"} {
		w = e.do(t, http.MethodPost, "/api/v1/controls/"+op, e.operator, nil)
		require.Equal(t, http.StatusOK, w.Code, op)
	}
	decodeData(t, w, &flags)
	assert.False(t, flags.Paused)
	assert.False(t, flags.Killed)

	require.Eventually(t, func() bool {
		return len(e.store.AuditLogs()) == 5
	}, 2*time.Second, 10*time.Millisecond)
	for _, entry := range e.store.AuditLogs() {
		assert.Equal(t, "alice", entry.Actor)
		assert.NotEmpty(t, entry.RequestID)
	}

	w = e.do(t, http.MethodGet, "/api/v1/audit", e.viewer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodGet, "/api/v1/audit?limit=2", e.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []models.AuditLog
	decodeData(t, w, &logs)
	assert.Len(t, logs, 2)
}

func TestAPI_Actions(t *testing.T) {
	e := newAPIEnv(t)
	probe := map[string]interface{}{
		"idempotency_key": "probe-1",
		"action_type":     "noop_probe",
		"payload":         map[string]string{"note": "pipeline check"},
	}

	w := e.do(t, http.MethodPost, "/api/v1/actions", e.viewer, probe)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/actions", e.operator, probe)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Action  models.Action `json:"action"`
		Created bool          `json:"created"`
	}
	decodeData(t, w, &created)
	assert.True(t, created.Created)
	assert.Equal(t, models.ActionStatusPending, created.Action.Status)
	assert.Equal(t, 5, created.Action.MaxAttempts)

	w = e.do(t, http.MethodPost, "/api/v1/actions", e.operator, probe)
	require.Equal(t, http.StatusOK, w.Code)
	var dup struct {
		Action  models.Action `json:"action"`
		Created bool          `json:"created"`
	}
	decodeData(t, w, &dup)
	assert.False(t, dup.Created)
	assert.Equal(t, created.Action.ID, dup.Action.ID)
	assert.Len(t, e.store.Actions(), 1)

	w = e.do(t, http.MethodPost, "/api/v1/actions", e.operator, map[string]interface{}{
		"idempotency_key": "bad-1",
		"action_type":     "fax_send",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/actions", e.operator, map[string]interface{}{
		"idempotency_key": "mail-1",
		"action_type":     "outreach_email",
		"payload":         map[string]string{"subject": "hi"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/api/v1/actions/" + jsonNumber(created.Action.ID)
	w = e.do(t, http.MethodGet, path, e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, path+"/logs", e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/v1/actions?status=pending", e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []models.Action
	decodeData(t, w, &pending)
	assert.Len(t, pending, 1)

	w = e.do(t, http.MethodGet, "/api/v1/actions?status=LOST", e.viewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, path+"/requeue", e.operator, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/actions/999", e.viewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/actions/abc", e.viewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_RequeueDLQAction(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()

	w := e.do(t, http.MethodPost, "/api/v1/actions", e.operator, map[string]interface{}{
		"idempotency_key": "probe-dlq",
		"action_type":     "noop_probe",
		"max_attempts":    1,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	claimed, err := e.deps.Queue.ClaimBatch(ctx, "worker-a", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	outcome, err := e.deps.Queue.Fail(ctx, claimed[0], assert.AnError, false)
	require.NoError(t, err)
	require.Equal(t, models.ActionStatusDLQ, outcome.Status)

	w = e.do(t, http.MethodPost, "/api/v1/actions/"+jsonNumber(claimed[0].ID)+"/requeue", e.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var action models.Action
	decodeData(t, w, &action)
	assert.Equal(t, models.ActionStatusPending, action.Status)
	assert.Equal(t, 0, action.Attempts)
}

func TestAPI_CampaignRuns(t *testing.T) {
	e := newAPIEnv(t)
	due := e.clk.Now().Add(-time.Minute)
	e.store.AddCampaign(&models.Campaign{ID: 7, Name: "spring", Channel: "email", Status: models.CampaignStatusActive, MaxSteps: 2})
	e.store.AddLead(&models.Lead{
		ID: 70, CampaignID: 7, Email: "ana@example.org", IdentityHash: "h70",
		Status: models.LeadStatusEnriched, ConsentStatus: models.ConsentGranted, NextActionAt: &due,
	})

	w := e.do(t, http.MethodPost, "/api/v1/campaigns/7/runs", e.viewer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/campaigns/7/runs", e.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run models.CampaignOrchestratorRun
	decodeData(t, w, &run)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.LeadsProcessed)
	assert.Equal(t, 1, run.JobsCreated)

	w = e.do(t, http.MethodGet, "/api/v1/campaigns/7/runs", e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []models.CampaignOrchestratorRun
	decodeData(t, w, &runs)
	require.Len(t, runs, 1)

	w = e.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), e.viewer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodGet, "/api/v1/runs/00000000-0000-0000-0000-000000000001", e.viewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodGet, "/api/v1/runs/nope", e.viewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/campaigns/99/runs", e.operator, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.store.SetFlags(true, false, false)
	w = e.do(t, http.MethodPost, "/api/v1/campaigns/7/runs", e.operator, nil)
	assert.Equal(t, http.StatusLocked, w.Code)

	e.store.SetFlags(false, true, false)
	w = e.do(t, http.MethodPost, "/api/v1/campaigns/7/runs", e.operator, nil)
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestAPI_StatusAndProof(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/status", e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), testSecret)
	var snap map[string]interface{}
	decodeData(t, w, &snap)
	assert.Contains(t, snap, "queue")
	assert.Contains(t, snap, "flags")

	w = e.do(t, http.MethodGet, "/api/v1/ticks", e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/v1/proof/summary?since=2026-03-01T00:00:00Z", e.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.ProofSummary
	decodeData(t, w, &summary)
	assert.Equal(t, 0, summary.ExternalSendCount)

	w = e.do(t, http.MethodGet, "/api/v1/proof/summary?since=yesterday", e.viewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_UnknownRoute(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "endpoint not found")
}

func jsonNumber(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
