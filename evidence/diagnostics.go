package evidence

import (
	"context"
	"log/slog"

	"github.com/nomis52/posrunner/engine"
	"github.com/nomis52/posrunner/metrics"
	"github.com/nomis52/posrunner/report"
)

// Reporter receives the report document of every finished run.
type Reporter interface {
	Report(ctx context.Context, run *report.Run) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, run *report.Run) error

func (f ReporterFunc) Report(ctx context.Context, run *report.Run) error {
	return f(ctx, run)
}

// Diagnostics converts finished runs into report documents and hands them to
// every reporter in order. Reporter errors are logged and never change the
// run's verdict.
type Diagnostics struct {
	reporters []Reporter
	logger    *slog.Logger
}

// NewDiagnostics creates a Diagnostics fan-out. Nil reporters are ignored.
func NewDiagnostics(logger *slog.Logger, reporters ...Reporter) *Diagnostics {
	d := &Diagnostics{logger: logger.With("component", "diagnostics")}
	for _, r := range reporters {
		if r != nil {
			d.reporters = append(d.reporters, r)
		}
	}
	return d
}

// RunFinished implements engine.Observer.
func (d *Diagnostics) RunFinished(ctx context.Context, rc *engine.RunContext) {
	run := report.FromRunContext(rc)

	level := slog.LevelInfo
	if !run.Passed() {
		level = slog.LevelWarn
	}
	d.logger.Log(ctx, level, "scenario finished",
		"scenario", run.Scenario,
		"run_id", run.ID,
		"status", run.Status,
		"kind", run.Kind,
		"step", run.FailedStep,
		"reason", run.Reason,
		"elapsed_ms", run.ElapsedMS,
	)

	for _, r := range d.reporters {
		if err := r.Report(ctx, run); err != nil {
			d.logger.Error("reporter failed", "run_id", run.ID, "error", err)
		}
	}
}

// MetricsReporter records terminal verdicts on a RunRecorder.
type MetricsReporter struct {
	recorder *metrics.RunRecorder
}

// NewMetricsReporter creates a MetricsReporter. A nil recorder records nothing.
func NewMetricsReporter(recorder *metrics.RunRecorder) *MetricsReporter {
	return &MetricsReporter{recorder: recorder}
}

func (m *MetricsReporter) Report(ctx context.Context, run *report.Run) error {
	m.recorder.RunFinished(run.Scenario, run.Status, run.Kind, run.FinishedAt)
	return nil
}
