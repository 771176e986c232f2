// Package server provides the posrunner scheduler: an HTTP service that runs
// scenario batches on cron triggers or on demand.
//
// # Endpoints
//
//   - GET /health - "ok", or 503 when the scenario data cannot be loaded
//   - GET /metrics - Prometheus scrape endpoint
//   - GET /api/status - Running flag, next scheduled run, last batch summary
//   - GET /api/scenarios - Runnable scenarios and invalid rows
//   - GET /api/history - Summaries of finished runs, newest first
//   - GET /api/history/{id} - Full report of one run
//   - POST /api/run - Starts a background batch
//   - GET /config - Effective configuration as YAML
//
// Only one batch runs at a time. Triggers that arrive while a batch is in
// progress are rejected, never queued.
//
// # Example
//
//	srv, err := server.New(&cfg, runner, store, history,
//	    server.WithListenAddr(cfg.Schedule.Listen),
//	    server.WithTriggers(cfg.Schedule.Triggers),
//	)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nomis52/posrunner/batch"
	"github.com/nomis52/posrunner/buildinfo"
	"github.com/nomis52/posrunner/config"
	"github.com/nomis52/posrunner/report"
	"github.com/nomis52/posrunner/runstore"
	"github.com/nomis52/posrunner/server/cron"
	"github.com/nomis52/posrunner/server/handlers"
	"github.com/nomis52/posrunner/server/types"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultListenAddr      = ":8080"
)

// Catalog is the scenario data the server selects batches from.
// *scenario.Store implements it.
type Catalog interface {
	batch.Catalog
	Invalid() (map[string]error, error)
}

// Server is the HTTP server for the scheduler.
type Server struct {
	addr       string
	logger     *slog.Logger
	cfg        *config.Config
	runner     *batch.Runner
	catalog    Catalog
	history    runstore.Store
	metrics    http.Handler
	triggers   *cron.CronTriggerManager
	props      types.ServerProperties
	httpServer *http.Server

	ctxMu   sync.Mutex
	baseCtx context.Context
	busy    atomic.Bool
	batches sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server) error

// WithListenAddr configures the address the server listens on.
// Default is ":8080".
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger.With("component", "server")
		return nil
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) error {
		s.metrics = h
		return nil
	}
}

// WithTriggers schedules batches on the given cron triggers. Scenario names
// are checked against the catalog.
func WithTriggers(specs []cron.TriggerSpec) Option {
	return func(s *Server) error {
		if len(specs) == 0 {
			return nil
		}
		names, err := s.catalog.Names()
		if err != nil {
			return fmt.Errorf("loading scenario names: %w", err)
		}
		known := make(map[string]bool, len(names))
		for _, n := range names {
			known[n] = true
		}
		mgr, err := cron.NewCronTriggerManager(specs, s, s.logger, known)
		if err != nil {
			return fmt.Errorf("creating cron triggers: %w", err)
		}
		s.triggers = mgr
		return nil
	}
}

// New creates a Server. Options are applied in order, so WithLogger should
// come before WithTriggers.
func New(cfg *config.Config, runner *batch.Runner, catalog Catalog, history runstore.Store, opts ...Option) (*Server, error) {
	if runner == nil || catalog == nil || history == nil {
		return nil, errors.New("runner, catalog and history are required")
	}
	hostname, _ := os.Hostname()

	s := &Server{
		addr:    defaultListenAddr,
		logger:  slog.Default().With("component", "server"),
		cfg:     cfg,
		runner:  runner,
		catalog: catalog,
		history: history,
		baseCtx: context.Background(),
		props: types.ServerProperties{
			Build:     buildinfo.Get(),
			StartedAt: time.Now(),
			Hostname:  hostname,
		},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Config returns the configuration the server was started with.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// Trigger starts a background batch over the named scenarios. "all" selects
// the whole catalog. It returns batch.ErrBatchInProgress when a batch is
// already running.
func (s *Server) Trigger(scenarios []string) error {
	names, err := batch.Select(s.catalog, scenarios, nil)
	if err != nil {
		return err
	}
	known, err := s.catalog.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown scenario %q", name)
		}
	}
	if !s.busy.CompareAndSwap(false, true) {
		return batch.ErrBatchInProgress
	}

	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		defer s.busy.Store(false)
		b, err := s.runner.Run(s.runContext(), names)
		if err != nil {
			s.logger.Error("batch did not finish", "error", err)
		}
		if b != nil && b.ExitCode() != report.ExitPassed {
			s.logger.Warn("batch had failures", "batch_id", b.ID, "failed", b.Failed, "errors", b.Errors)
		}
	}()
	return nil
}

// runContext is the parent of background batches, cancelled on shutdown.
func (s *Server) runContext() context.Context {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	return s.baseCtx
}

// NextRun returns the next scheduled run time, or nil if no trigger is configured.
func (s *Server) NextRun() *time.Time {
	if s.triggers == nil {
		return nil
	}
	next := s.triggers.NextRun()
	if next.IsZero() {
		return nil
	}
	return &next
}

// Status reports the scheduler state.
func (s *Server) Status() types.Status {
	return types.Status{
		Server:    s.props,
		Uptime:    humanize.RelTime(s.props.StartedAt, time.Now(), "", ""),
		Running:   s.busy.Load() || s.runner.Running(),
		Workers:   s.runner.Parallelism(),
		NextRun:   s.NextRun(),
		LastBatch: s.runner.Last(),
	}
}

// History returns the stored run summaries.
func (s *Server) History() []runstore.Summary {
	return s.history.History()
}

// Get returns one stored run.
func (s *Server) Get(id string) (*report.Run, bool) {
	return s.history.Get(id)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// On shutdown the running batch is cancelled and awaited.
func (s *Server) Run(ctx context.Context) error {
	s.ctxMu.Lock()
	s.baseCtx = ctx
	s.ctxMu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	if s.triggers != nil {
		s.triggers.Start(ctx)
		s.logger.Info("started cron triggers", "count", len(s.triggers.Specs()), "next_run", s.triggers.NextRun())
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.addr, "workers", s.runner.Parallelism())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.batches.Wait()
		return err
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", handlers.NewHealthHandler(s.catalog))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s))
	mux.Handle("GET /api/scenarios", handlers.NewScenariosHandler(s.logger, s.catalog))
	mux.Handle("GET /api/history", handlers.NewHistoryHandler(s))
	mux.Handle("GET /api/history/{id}", handlers.NewRunDetailHandler(s))
	mux.Handle("POST /api/run", handlers.NewRunHandler(s))
	mux.Handle("GET /config", handlers.NewConfigHandler(s))
	return mux
}
