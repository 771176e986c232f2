package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunRecorder records scenario run metrics on a Registry.
// A nil *RunRecorder is valid and records nothing.
type RunRecorder struct {
	runs         CounterVec
	stepDuration HistogramVec
	recoveries   CounterVec
	lastRun      GaugeVec
	batchFailed  Gauge
}

// NewRunRecorder registers the scenario series on reg.
func NewRunRecorder(reg Registry) (*RunRecorder, error) {
	runs, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "scenario_runs_total",
		Help: "Scenario runs by terminal status and failure kind",
	}, []string{"scenario", "status", "kind"})
	if err != nil {
		return nil, fmt.Errorf("creating scenario_runs_total: %w", err)
	}

	stepDuration, err := reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "step_duration_seconds",
		Help:    "Duration of scenario steps",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"step"})
	if err != nil {
		return nil, fmt.Errorf("creating step_duration_seconds: %w", err)
	}

	recoveries, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "step_recoveries_total",
		Help: "Interstitial recovery passes per step",
	}, []string{"step"})
	if err != nil {
		return nil, fmt.Errorf("creating step_recoveries_total: %w", err)
	}

	lastRun, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scenario_last_run_timestamp_seconds",
		Help: "Unix time of the last finished run per scenario",
	}, []string{"scenario"})
	if err != nil {
		return nil, fmt.Errorf("creating scenario_last_run_timestamp_seconds: %w", err)
	}

	batchFailed, err := reg.NewGauge(prometheus.GaugeOpts{
		Name: "batch_failed_scenarios",
		Help: "Number of failed scenarios in the last batch",
	})
	if err != nil {
		return nil, fmt.Errorf("creating batch_failed_scenarios: %w", err)
	}

	return &RunRecorder{
		runs:         runs,
		stepDuration: stepDuration,
		recoveries:   recoveries,
		lastRun:      lastRun,
		batchFailed:  batchFailed,
	}, nil
}

// StepFinished records the duration of one step.
func (r *RunRecorder) StepFinished(step string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.With(prometheus.Labels{"step": step}).Observe(elapsed.Seconds())
}

// Recovery records one interstitial recovery pass.
func (r *RunRecorder) Recovery(step string) {
	if r == nil {
		return
	}
	r.recoveries.With(prometheus.Labels{"step": step}).Inc()
}

// RunFinished records a terminal verdict. kind is empty for completed runs.
func (r *RunRecorder) RunFinished(scenario, status, kind string, at time.Time) {
	if r == nil {
		return
	}
	r.runs.With(prometheus.Labels{"scenario": scenario, "status": status, "kind": kind}).Inc()
	r.lastRun.With(prometheus.Labels{"scenario": scenario}).Set(float64(at.Unix()))
}

// BatchFinished records the failure count of a batch.
func (r *RunRecorder) BatchFinished(failed int) {
	if r == nil {
		return
	}
	r.batchFailed.Set(float64(failed))
}
