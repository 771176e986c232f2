// Package report builds the machine-readable documents posrunner emits for
// downstream collaborators: one document per scenario run and one summary
// per batch. Rendering them as HTML or CI summaries is left to other tools.
package report

import (
	"errors"
	"time"

	"github.com/nomis52/posrunner/engine"
	"github.com/nomis52/posrunner/logging"
)

// Batch result statuses. StatusError marks scenarios that never started
// because of a configuration or data error.
const (
	StatusCompleted = string(engine.StatusCompleted)
	StatusFailed    = string(engine.StatusFailed)
	StatusError     = "error"
)

// Exit codes for the command surface.
const (
	ExitPassed      = 0
	ExitFailed      = 1
	ExitConfigError = 2
)

// Step is one step of a run.
type Step struct {
	Name      string             `json:"name" yaml:"name"`
	Outcome   string             `json:"outcome" yaml:"outcome"`
	ElapsedMS int64              `json:"elapsed_ms" yaml:"elapsed_ms"`
	Evidence  string             `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Error     string             `json:"error,omitempty" yaml:"error,omitempty"`
	Recovered []string           `json:"recovered,omitempty" yaml:"recovered,omitempty"`
	Logs      []logging.LogEntry `json:"logs,omitempty" yaml:"logs,omitempty"`
}

// Run is the document for a single scenario run.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	Scenario   string    `json:"scenario" yaml:"scenario"`
	Status     string    `json:"status" yaml:"status"`
	Kind       string    `json:"kind,omitempty" yaml:"kind,omitempty"`
	FailedStep string    `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Reason     string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Expected   string    `json:"expected_total,omitempty" yaml:"expected_total,omitempty"`
	Observed   string    `json:"observed_total,omitempty" yaml:"observed_total,omitempty"`
	Currency   string    `json:"currency,omitempty" yaml:"currency,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms" yaml:"elapsed_ms"`
	Steps      []Step    `json:"steps" yaml:"steps"`
	Evidence   []string  `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Passed reports whether the run completed.
func (r *Run) Passed() bool {
	return r.Status == StatusCompleted
}

// FromRunContext converts a finished run into its report document.
func FromRunContext(rc *engine.RunContext) *Run {
	v := rc.Verdict
	run := &Run{
		ID:         rc.ID,
		Title:      rc.Settings.ReportTitle(),
		Scenario:   rc.Scenario.Name,
		Status:     string(v.Status),
		Kind:       v.Kind.String(),
		FailedStep: v.Step,
		Reason:     v.Reason,
		Expected:   v.Expected,
		Observed:   v.Observed,
		Currency:   rc.Scenario.Currency,
		StartedAt:  rc.StartedAt,
		FinishedAt: rc.FinishedAt,
		ElapsedMS:  rc.Elapsed().Milliseconds(),
		Steps:      make([]Step, 0, len(rc.Steps)),
		Evidence:   rc.EvidenceRefs(),
	}
	for _, s := range rc.Steps {
		run.Steps = append(run.Steps, Step{
			Name:      s.Step,
			Outcome:   string(s.Outcome),
			ElapsedMS: s.Elapsed.Milliseconds(),
			Evidence:  s.Evidence,
			Error:     s.Error,
			Recovered: s.Recovered,
			Logs:      s.Logs,
		})
	}
	return run
}

// Result is one scenario's line in a batch summary.
type Result struct {
	Scenario  string `json:"scenario" yaml:"scenario"`
	RunID     string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status    string `json:"status" yaml:"status"`
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Step      string `json:"step,omitempty" yaml:"step,omitempty"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// Batch summarises a set of scenario runs.
type Batch struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms" yaml:"elapsed_ms"`
	Total      int       `json:"total" yaml:"total"`
	Passed     int       `json:"passed" yaml:"passed"`
	Failed     int       `json:"failed" yaml:"failed"`
	Errors     int       `json:"errors" yaml:"errors"`
	Results    []Result  `json:"results" yaml:"results"`
}

// NewBatch starts an empty batch summary.
func NewBatch(id, title string, startedAt time.Time) *Batch {
	return &Batch{ID: id, Title: title, StartedAt: startedAt, Results: []Result{}}
}

// AddRun records a finished run.
func (b *Batch) AddRun(r *Run) {
	b.Total++
	if r.Passed() {
		b.Passed++
	} else {
		b.Failed++
	}
	b.Results = append(b.Results, Result{
		Scenario:  r.Scenario,
		RunID:     r.ID,
		Status:    r.Status,
		Kind:      r.Kind,
		Step:      r.FailedStep,
		Reason:    r.Reason,
		ElapsedMS: r.ElapsedMS,
	})
}

// AddError records a scenario that could not be run.
func (b *Batch) AddError(scenarioName string, err error) {
	b.Total++
	b.Errors++
	kind := engine.KindConfiguration
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		kind = engErr.Kind
	}
	b.Results = append(b.Results, Result{
		Scenario: scenarioName,
		Status:   StatusError,
		Kind:     kind.String(),
		Reason:   err.Error(),
	})
}

// Finish stamps the end time.
func (b *Batch) Finish(at time.Time) {
	b.FinishedAt = at
	b.ElapsedMS = at.Sub(b.StartedAt).Milliseconds()
}

// ExitCode maps the batch outcome to the process exit status. Configuration
// errors take precedence over scenario failures.
func (b *Batch) ExitCode() int {
	switch {
	case b.Errors > 0:
		return ExitConfigError
	case b.Failed > 0:
		return ExitFailed
	default:
		return ExitPassed
	}
}
