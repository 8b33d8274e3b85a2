// ABOUTME: Tests for the registry HTTP API handlers.
// ABOUTME: Drives the mux with httptest against a fake clock and in-memory audit store.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/api"
	"github.com/2389/coven-registry/internal/config"
	"github.com/2389/coven-registry/internal/listing"
	"github.com/2389/coven-registry/internal/orphan"
	"github.com/2389/coven-registry/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	srv   *Server
	clock *testingclock.FakeClock
	audit *store.MockStore
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Server.GRPCAddr = ""
	cfg.Cleanup.HookTimeout = 100 * time.Millisecond
	for _, m := range mutate {
		m(cfg)
	}

	env := &testEnv{
		clock: testingclock.NewFakeClock(epoch),
		audit: store.NewMockStore(),
	}
	srv, err := New(cfg, testLogger(), WithClock(env.clock), WithAuditStore(env.audit))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, name, model string) agent.Record {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/agents", api.RegisterRequest{Name: name, Model: model})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[agent.Record](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[api.ErrorResponse](t, rec).Error
}

func TestAPI_RegisterAgent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/agents", api.RegisterRequest{
		Name:     "refactor-auth",
		Model:    "claude-sonnet",
		Metadata: map[string]string{"repo": "coven"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decode[agent.Record](t, rec)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "/api/agents/"+got.ID, rec.Header().Get("Location"))
	assert.Equal(t, agent.StatusRunning, got.Status)
	assert.Equal(t, agent.DefaultType, got.Type)
	assert.True(t, got.StartTime.Equal(epoch))
	assert.Equal(t, "coven", got.Metadata["repo"])
}

func TestAPI_RegisterAgent_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", api.RegisterRequest{Model: "claude"}},
		{"missing model", api.RegisterRequest{Name: "a"}},
		{"unknown status", api.RegisterRequest{Name: "a", Model: "claude", Status: "zombie"}},
		{"negative cost", api.RegisterRequest{Name: "a", Model: "claude", Cost: -1}},
		{"malformed json", `{"name":`},
		{"unknown field", `{"name":"a","model":"claude","owner":"me"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/agents", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, errorMessage(t, rec))
		})
	}
	assert.Equal(t, 0, env.srv.Registry().Len(), "rejected registrations leave no record")
}

func TestAPI_RegisterAgent_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(`{"name":"a","model":"claude"}`))
		req.Header.Set(api.IdempotencyKeyHeader, "retry-1")
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	first := post()
	require.Equal(t, http.StatusCreated, first.Code)
	id := decode[agent.Record](t, first).ID

	again := post()
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, id, decode[agent.Record](t, again).ID)
	assert.Equal(t, 1, env.srv.Registry().Len())

	// Once the first agent is gone the key registers a new one.
	require.NoError(t, env.srv.Registry().Remove(id))
	third := post()
	require.Equal(t, http.StatusCreated, third.Code)
	assert.NotEqual(t, id, decode[agent.Record](t, third).ID)
}

func TestAPI_ErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")

	rec := env.do(t, http.MethodGet, "/api/agents/missing", nil)
	assert.Equal(t, api.CodeNotFound, decode[api.ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/agents?status=zombie", nil)
	assert.Equal(t, api.CodeValidation, decode[api.ErrorResponse](t, rec).Code)

	completed := string(agent.StatusCompleted)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/agents/"+a.ID, api.PatchRequest{Status: &completed}).Code)
	rec = env.do(t, http.MethodPatch, "/api/agents/"+a.ID, api.PatchRequest{Status: &completed})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, api.CodeInvalidTransition, decode[api.ErrorResponse](t, rec).Code)
}

func TestAPI_PatchCannotForgeOrphan(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")

	failed := string(agent.StatusFailed)
	rec := env.do(t, http.MethodPatch, "/api/agents/"+a.ID, api.PatchRequest{Status: &failed, Reason: agent.ReasonOrphaned})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, api.CodeValidation, decode[api.ErrorResponse](t, rec).Code)

	got, ok := env.srv.registry.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, agent.StatusRunning, got.Status)

	rec = env.do(t, http.MethodGet, "/api/agents?status=orphaned", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records, err := listing.ParseJSON(rec.Body)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAPI_GetAgent(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")

	rec := env.do(t, http.MethodGet, "/api/agents/"+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, decode[agent.Record](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/agents/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListAgents(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude-sonnet")
	env.register(t, "b", "gpt-4")
	c := env.register(t, "c", "claude-opus")

	rec := env.do(t, http.MethodGet, "/api/agents?model=claude", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	records, err := listing.ParseJSON(rec.Body)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, a.ID, records[0].ID)
	assert.Equal(t, c.ID, records[1].ID)
}

func TestAPI_ListAgents_Table(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "refactor-auth", "claude")

	rec := env.do(t, http.MethodGet, "/api/agents?format=table", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), "LAST ACTIVE")
	assert.Contains(t, rec.Body.String(), "refactor-auth")
}

func TestAPI_ListAgents_BadQuery(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"status=zombie", "since=soon", "format=yaml"} {
		rec := env.do(t, http.MethodGet, "/api/agents?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAPI_UpdateAgent_Transitions(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")

	completed := "completed"
	rec := env.do(t, http.MethodPatch, "/api/agents/"+a.ID, api.PatchRequest{Status: &completed, Cost: ptr(2.5)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[agent.Record](t, rec)
	assert.Equal(t, agent.StatusCompleted, got.Status)
	assert.NotNil(t, got.EndTime)
	assert.Equal(t, 2.5, got.Cost)

	failed := "failed"
	rec = env.do(t, http.MethodPatch, "/api/agents/"+a.ID, api.PatchRequest{Status: &failed})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/agents/nope", api.PatchRequest{Status: &failed})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bogus := "paused"
	b := env.register(t, "b", "claude")
	rec = env.do(t, http.MethodPatch, "/api/agents/"+b.ID, api.PatchRequest{Status: &bogus})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_UpdateAgent_StaleSnapshot(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")

	env.clock.Step(time.Minute)
	rec := env.do(t, http.MethodPost, "/api/agents/"+a.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	failed := "failed"
	rec = env.do(t, http.MethodPatch, "/api/agents/"+a.ID, api.PatchRequest{
		Status:             &failed,
		ExpectLastActivity: &a.LastActivity,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	got, ok := env.srv.Registry().Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, agent.StatusRunning, got.Status)
}

func TestAPI_Heartbeat(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")

	env.clock.Step(5 * time.Minute)
	rec := env.do(t, http.MethodPost, "/api/agents/"+a.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[agent.Record](t, rec).LastActivity.Equal(epoch.Add(5*time.Minute)))

	rec = env.do(t, http.MethodPost, "/api/agents/nope/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RemoveAgent(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")

	rec := env.do(t, http.MethodDelete, "/api/agents/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/agents/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Sweep(t *testing.T) {
	env := newTestEnv(t)
	stale := env.register(t, "stale", "claude")

	env.clock.Step(20 * time.Minute)
	fresh := env.register(t, "fresh", "claude")
	env.clock.Step(15 * time.Minute)

	rec := env.do(t, http.MethodPost, "/api/cleanup/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[orphan.SweepResult](t, rec)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, []string{stale.ID}, res.Orphaned)

	rec = env.do(t, http.MethodGet, "/api/agents?status=orphaned", nil)
	records, err := listing.ParseJSON(rec.Body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, stale.ID, records[0].ID)
	assert.Equal(t, agent.ReasonOrphaned, records[0].Reason)

	got, _ := env.srv.Registry().Get(fresh.ID)
	assert.Equal(t, agent.StatusRunning, got.Status)

	rec = env.do(t, http.MethodGet, "/api/cleanup", nil)
	state := decode[api.CleanupState](t, rec)
	assert.Equal(t, 1, state.Stats.Sweeps)
	assert.Equal(t, 1, state.Stats.Orphaned)
	assert.Equal(t, "30m0s", state.Timeout)
	require.NotNil(t, state.LastResult)
	assert.Equal(t, []string{stale.ID}, state.LastResult.Orphaned)
}

func TestAPI_CleanupLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cleanup/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.CleanupState](t, rec).Running)

	// Starting again is not an error.
	rec = env.do(t, http.MethodPost, "/api/cleanup/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(t, http.MethodPost, "/api/cleanup/sweep", nil)
	rec = env.do(t, http.MethodPost, "/api/cleanup/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[api.CleanupState](t, rec)
	assert.False(t, state.Running)
	assert.Zero(t, state.Stats.Sweeps)
	assert.Nil(t, state.LastResult)

	rec = env.do(t, http.MethodPost, "/api/cleanup/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_ReadyWithCleanupDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Cleanup.Enabled = false })

	rec := env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAPI_Summary(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a", "claude")
	b := env.register(t, "b", "gpt-4")

	completed := "completed"
	env.do(t, http.MethodPatch, "/api/agents/"+b.ID, api.PatchRequest{Status: &completed, Cost: ptr(1.0)})

	rec := env.do(t, http.MethodGet, "/api/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[listing.Summary](t, rec)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Running)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1.0, sum.TotalCost)

	rec = env.do(t, http.MethodGet, "/api/summary?model=claude", nil)
	assert.Equal(t, 1, decode[listing.Summary](t, rec).Total)
}

func TestAPI_Audit(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "a", "claude")
	env.clock.Step(31 * time.Minute)
	env.do(t, http.MethodPost, "/api/cleanup/sweep", nil)

	// The recorder writes asynchronously.
	require.Eventually(t, func() bool {
		return len(env.audit.Entries()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodGet, "/api/audit?agent_id="+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]store.AuditEntry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, store.AuditTransitioned, entries[0].Action)
	assert.Equal(t, agent.ReasonOrphaned, entries[0].Reason)
	assert.Equal(t, store.AuditRegistered, entries[1].Action)

	rec = env.do(t, http.MethodGet, "/api/audit?action=sweep", nil)
	assert.Len(t, decode[[]store.AuditEntry](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/audit?limit=1", nil)
	assert.Len(t, decode[[]store.AuditEntry](t, rec), 1)

	for _, q := range []string{"action=exploded", "limit=-1", "limit=x", "since=soon"} {
		rec = env.do(t, http.MethodGet, "/api/audit?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAPI_AuditNotConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Server.GRPCAddr = ""
	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a", "claude")

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coven_registry_agents_registered_total 1")
	assert.Contains(t, rec.Body.String(), `coven_registry_agents{status="running"} 1`)
}

func TestAPI_MetricsDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Metrics.Enabled = false })

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForError(agent.ErrValidation))
	assert.Equal(t, http.StatusNotFound, statusForError(agent.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusForError(agent.ErrInvalidTransition))
	assert.Equal(t, http.StatusConflict, statusForError(agent.ErrStaleSnapshot))
	assert.Equal(t, http.StatusInternalServerError, statusForError(io.ErrUnexpectedEOF))
}

func ptr[T any](v T) *T { return &v }
