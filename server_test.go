package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/config"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/history"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/metrics"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/notify"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/server"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/state"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

type fakeMonitor struct{}

func (fakeMonitor) LastLevel() float64 { return 72.5 }
func (fakeMonitor) Cycles() uint64     { return 3 }

type testEnv struct {
	dir     string
	cfg     *config.Config
	state   *state.State
	deps    ServerDeps
	handler http.Handler
}

// newTestEnv builds a server from a config file with the given JSON body.
// configure may adjust the dependencies before routes are built.
func newTestEnv(t *testing.T, configJSON string, configure func(env *testEnv)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(configJSON), 0o600))

	cfg := config.New(path)
	require.NoError(t, cfg.Load())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	st := state.New(cfg.Snapshot().ThresholdDB)

	env := &testEnv{
		dir:   dir,
		cfg:   cfg,
		state: st,
		deps: ServerDeps{
			State:    st,
			Sessions: server.NewManager(st, server.NewCommandHandler(st, m, nil, 8000), m, nil),
			Monitor:  fakeMonitor{},
			Gatherer: reg,
			Version:  NewVersionChecker(),
		},
	}
	if configure != nil {
		configure(env)
	}
	env.handler = NewServer(cfg, env.deps).SetupRoutes()
	return env
}

func (e *testEnv) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, `{"system": {"api_key": "secret"}}`, nil)

	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/api/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/api/status", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/ws", "", nil).Code)

	assert.Equal(t, http.StatusOK, env.do("GET", "/api/status", "", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, env.do("GET", "/api/status?api_key=secret", "", nil).Code)

	// Health and metrics stay public.
	assert.Equal(t, http.StatusOK, env.do("GET", "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do("GET", "/metrics", "", nil).Code)
}

func TestOpenAccessWithoutAPIKey(t *testing.T) {
	env := newTestEnv(t, `{}`, nil)

	rec := env.do("GET", "/api/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, `{"monitor": {"threshold_db": 70}}`, nil)
	env.state.SetBeaconID("014522")
	env.state.SetFilterEnabled(true)
	env.state.SetOperator("Anna")

	rec := env.do("GET", "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[types.StatusResponse](t, rec)
	assert.InDelta(t, 70.0, status.Threshold, 0)
	assert.True(t, status.FilterEnabled)
	assert.Equal(t, "Anna", status.Operator)
	assert.Equal(t, "014522", status.BeaconID)
	assert.False(t, status.SessionActive)
	assert.InDelta(t, 72.5, status.LastLevel, 0)
	assert.Equal(t, uint64(3), status.Cycles)
	assert.Equal(t, "dev", status.Version.Current)
}

func TestReadings(t *testing.T) {
	var store *history.Store
	env := newTestEnv(t, `{}`, func(env *testEnv) {
		var err error
		store, err = history.Open(t.Context(), filepath.Join(env.dir, "readings.db"), 30)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		env.deps.History = store
	})

	for _, level := range []float64{60, 75, 90} {
		require.NoError(t, store.Record(t.Context(), level, 70))
	}

	rec := env.do("GET", "/api/readings?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Readings []types.Reading `json:"readings"`
	}](t, rec)
	require.Len(t, body.Readings, 2)
	assert.InDelta(t, 90.0, body.Readings[0].LevelDB, 0)
	assert.True(t, body.Readings[0].Exceeded)

	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/readings?limit=-1", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/readings?limit=many", "", nil).Code)
}

func TestReadingsWithoutHistory(t *testing.T) {
	env := newTestEnv(t, `{}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, env.do("GET", "/api/readings", "", nil).Code)
}

func TestEvents(t *testing.T) {
	var logger *eventlog.Logger
	env := newTestEnv(t, `{}`, func(env *testEnv) {
		path := filepath.Join(env.dir, "events.jsonl")
		var err error
		logger, err = eventlog.NewLogger(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = logger.Close() })
		env.deps.EventLogPath = path
	})

	require.NoError(t, logger.LogSession(eventlog.SessionOpened, "127.0.0.1:5000", false, 0))
	require.NoError(t, logger.LogBeacon("014522", ""))
	require.NoError(t, logger.LogRelay(eventlog.RelaySent, "014522", "Anna", "014522|Anna dice ciao", ""))

	rec := env.do("GET", "/api/events?type=beacon", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Events  []eventlog.Event `json:"events"`
		HasMore bool             `json:"has_more"`
	}](t, rec)
	require.Len(t, body.Events, 1)
	assert.Equal(t, eventlog.BeaconFound, body.Events[0].Type)
	assert.False(t, body.HasMore)

	rec = env.do("GET", "/api/events?limit=1", "", nil)
	body = decode[struct {
		Events  []eventlog.Event `json:"events"`
		HasMore bool             `json:"has_more"`
	}](t, rec)
	require.Len(t, body.Events, 1)
	assert.Equal(t, eventlog.RelaySent, body.Events[0].Type)
	assert.True(t, body.HasMore)

	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/events?type=bogus", "", nil).Code)
}

func TestTestNotificationLogAndNoiseLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "noise.jsonl")
	env := newTestEnv(t, `{"notifications": {"log": {"path": "`+filepath.ToSlash(logPath)+`"}}}`, nil)

	rec := env.do("POST", "/api/notifications/test/log", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true}, decode[map[string]any](t, rec))

	require.NoError(t, notify.LogNoiseStart(logPath, 91.2, 85))

	rec = env.do("GET", "/api/noise-log", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Success bool                      `json:"success"`
		Entries []types.ThresholdLogEntry `json:"entries"`
	}](t, rec)
	assert.True(t, body.Success)
	require.Len(t, body.Entries, 2)
	assert.InDelta(t, 91.2, body.Entries[0].LevelDB, 0)
}

func TestTestNotificationErrors(t *testing.T) {
	env := newTestEnv(t, `{}`, nil)

	rec := env.do("POST", "/api/notifications/test/webhook", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "no webhook URL configured", body["error"])

	assert.Equal(t, http.StatusNotFound, env.do("POST", "/api/notifications/test/pager", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/notifications/test/log", "{", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do("GET", "/api/notifications/test/log", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, `{}`, nil)

	rec := env.do("GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "noisemonitor_cycles_total")
}

func TestReadNoiseLogMissingFile(t *testing.T) {
	entries, err := readNoiseLog(filepath.Join(t.TempDir(), "missing.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCoalesce(t *testing.T) {
	assert.Equal(t, "b", coalesce("", "b", "c"))
	assert.Equal(t, 10051, coalesce(0, 10051))
	assert.Empty(t, coalesce("", ""))
}
