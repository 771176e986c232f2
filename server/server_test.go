package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/posrunner/batch"
	"github.com/nomis52/posrunner/config"
	"github.com/nomis52/posrunner/engine"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/metrics"
	"github.com/nomis52/posrunner/report"
	"github.com/nomis52/posrunner/runstore"
	"github.com/nomis52/posrunner/scenario"
	"github.com/nomis52/posrunner/server/cron"
	"github.com/nomis52/posrunner/server/types"
)

type fakeCatalog struct {
	names []string
}

func (c fakeCatalog) Names() ([]string, error) { return c.names, nil }

func (c fakeCatalog) GetScenario(name string) (scenario.ScenarioRow, error) {
	return scenario.ScenarioRow{Name: name}, nil
}

func (c fakeCatalog) Invalid() (map[string]error, error) { return nil, nil }

// gatedRunner completes each scenario once release is closed and saves it to history.
type gatedRunner struct {
	release chan struct{}
	history runstore.Store

	mu   sync.Mutex
	seen []string
}

func (g *gatedRunner) Run(ctx context.Context, name string) (*engine.RunContext, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.mu.Lock()
	g.seen = append(g.seen, name)
	g.mu.Unlock()

	start := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	rc := &engine.RunContext{
		ID:         "run-" + name,
		Scenario:   scenario.ScenarioRow{Name: name},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Verdict:    engine.Verdict{Status: engine.StatusCompleted},
	}
	if err := g.history.Save(report.FromRunContext(rc)); err != nil {
		return nil, err
	}
	return rc, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *gatedRunner) {
	t.Helper()
	history := runstore.NewMemoryStore(10)
	gr := &gatedRunner{release: make(chan struct{}), history: history}
	runner, err := batch.New([]batch.ScenarioRunner{gr}, batch.WithLogger(logging.Discard()))
	require.NoError(t, err)

	cfg := config.Default()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	srv, err := New(&cfg, runner, fakeCatalog{names: []string{"basic_cash_sale", "promo_sale"}}, history, opts...)
	require.NoError(t, err)
	return srv, gr
}

func waitIdle(t *testing.T, srv *Server) {
	t.Helper()
	require.Eventually(t, func() bool { return !srv.Status().Running }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_TriggerRunsBatch(t *testing.T) {
	srv, gr := newTestServer(t)

	require.NoError(t, srv.Trigger([]string{batch.All}))
	assert.True(t, srv.Status().Running)
	assert.ErrorIs(t, srv.Trigger([]string{"promo_sale"}), batch.ErrBatchInProgress)

	close(gr.release)
	waitIdle(t, srv)

	status := srv.Status()
	require.NotNil(t, status.LastBatch)
	assert.Equal(t, 2, status.LastBatch.Passed)
	assert.Equal(t, []string{"basic_cash_sale", "promo_sale"}, gr.seen)
	assert.Len(t, srv.History(), 2)
	_, ok := srv.Get("run-promo_sale")
	assert.True(t, ok)
}

func TestServer_TriggerUnknownScenario(t *testing.T) {
	srv, _ := newTestServer(t)
	err := srv.Trigger([]string{"nope"})
	assert.ErrorContains(t, err, `unknown scenario "nope"`)
	assert.False(t, srv.Status().Running)
}

func TestServer_Routes(t *testing.T) {
	reg, err := metrics.NewScrapeRegistry()
	require.NoError(t, err)
	srv, gr := newTestServer(t, WithMetricsHandler(reg.Handler()))
	close(gr.release)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/run", "application/json", strings.NewReader(`{"scenarios":["basic_cash_sale"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitIdle(t, srv)

	resp, err = http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	var status types.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, 1, status.Workers)
	require.NotNil(t, status.LastBatch)
	assert.Equal(t, 1, status.LastBatch.Total)
	assert.Nil(t, status.NextRun)

	resp, err = http.Get(ts.URL + "/api/history/run-basic_cash_sale")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/metrics", "/api/scenarios", "/config"} {
		resp, err = http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_WithTriggers(t *testing.T) {
	srv, _ := newTestServer(t, WithTriggers([]cron.TriggerSpec{{Scenarios: []string{"promo_sale"}, CronSpec: "0 2 * * *"}}))
	require.NotNil(t, srv.NextRun())

	_, err := New(srv.cfg, srv.runner, srv.catalog, srv.history,
		WithTriggers([]cron.TriggerSpec{{Scenarios: []string{"missing"}, CronSpec: "@daily"}}))
	assert.Error(t, err)
}

func TestServer_RunShutsDown(t *testing.T) {
	srv, _ := newTestServer(t, WithListenAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Trigger([]string{"basic_cash_sale"}))

	cancel()
	select {
	case err := <-done:
		assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, srv.Status().Running)
}
