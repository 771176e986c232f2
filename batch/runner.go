// Package batch runs a set of scenarios across one or more application
// instances and produces the batch summary.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/posrunner/engine"
	"github.com/nomis52/posrunner/metrics"
	"github.com/nomis52/posrunner/report"
)

// ErrBatchInProgress is returned when a batch is started while another is running.
var ErrBatchInProgress = errors.New("a batch is already in progress")

// ScenarioRunner runs one scenario to a terminal state. *engine.Engine implements it.
type ScenarioRunner interface {
	Run(ctx context.Context, name string) (*engine.RunContext, error)
}

// BatchWriter persists the batch summary.
type BatchWriter interface {
	WriteBatch(b *report.Batch) (string, error)
}

// Runner distributes scenarios over a pool of runners, one worker per runner.
// Each runner owns one application instance, so scenarios on different
// workers never share UI state.
type Runner struct {
	runners  []ScenarioRunner
	logger   *slog.Logger
	recorder *metrics.RunRecorder
	writer   BatchWriter
	title    string
	now      func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	last    *report.Batch
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger.With("component", "batch")
	}
}

// WithRecorder records the failed scenario count of each batch.
func WithRecorder(rec *metrics.RunRecorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithWriter writes every batch summary.
func WithWriter(w BatchWriter) Option {
	return func(r *Runner) {
		r.writer = w
	}
}

// WithTitle sets the batch report title.
func WithTitle(title string) Option {
	return func(r *Runner) {
		r.title = title
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a Runner over the given scenario runners.
func New(runners []ScenarioRunner, opts ...Option) (*Runner, error) {
	if len(runners) == 0 {
		return nil, errors.New("at least one scenario runner is required")
	}
	r := &Runner{
		runners: runners,
		logger:  slog.Default().With("component", "batch"),
		title:   "POS Automation Test Report",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Parallelism is the number of workers.
func (r *Runner) Parallelism() int {
	return len(r.runners)
}

// Running reports whether a batch is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Last returns the most recent finished batch, or nil.
func (r *Runner) Last() *report.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type outcome struct {
	run *report.Run
	err error
}

// Run executes the named scenarios and returns the summary. Results keep the
// order of names regardless of which worker ran them. A scenario failure never
// stops the batch; cancelling ctx stops dispatching further scenarios and
// returns the partial summary with the context error.
func (r *Runner) Run(ctx context.Context, names []string) (*report.Batch, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBatchInProgress
	}
	defer r.running.Store(false)

	b := report.NewBatch(uuid.NewString(), r.title, r.now())
	logger := r.logger.With("batch_id", b.ID)
	logger.Info("starting batch", "scenarios", len(names), "workers", len(r.runners))

	results := make([]*outcome, len(names))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w, runner := range r.runners {
		wg.Add(1)
		go func(worker int, runner ScenarioRunner) {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.runOne(ctx, logger.With("worker", worker), runner, names[i])
			}
		}(w, runner)
	}

	var dispatchErr error
dispatch:
	for i := range names {
		select {
		case <-ctx.Done():
			dispatchErr = ctx.Err()
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	for i, res := range results {
		switch {
		case res == nil:
			// never dispatched
		case res.err != nil:
			b.AddError(names[i], res.err)
		default:
			b.AddRun(res.run)
		}
	}
	b.Finish(r.now())

	r.recorder.BatchFinished(b.Failed + b.Errors)
	if r.writer != nil {
		if path, err := r.writer.WriteBatch(b); err != nil {
			logger.Error("failed to write batch summary", "error", err)
		} else {
			logger.Info("wrote batch summary", "path", path)
		}
	}

	r.mu.Lock()
	r.last = b
	r.mu.Unlock()

	logger.Info("batch finished",
		"total", b.Total,
		"passed", b.Passed,
		"failed", b.Failed,
		"errors", b.Errors,
		"elapsed", time.Duration(b.ElapsedMS)*time.Millisecond,
	)
	if dispatchErr != nil {
		return b, fmt.Errorf("batch cancelled after %d of %d scenarios: %w", b.Total, len(names), dispatchErr)
	}
	return b, nil
}

func (r *Runner) runOne(ctx context.Context, logger *slog.Logger, runner ScenarioRunner, name string) *outcome {
	logger.Info("running scenario", "scenario", name)
	rc, err := runner.Run(ctx, name)
	if err != nil {
		logger.Warn("scenario could not start", "scenario", name, "error", err)
		return &outcome{err: err}
	}
	return &outcome{run: report.FromRunContext(rc)}
}
