package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nomis52/posrunner/driver"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/scenario"
)

// Outcome is the result of a single step.
type Outcome string

const (
	OutcomeOK Outcome = "ok"
	// OutcomeRetriedOK means the step only succeeded after an interstitial recovery pass.
	OutcomeRetriedOK Outcome = "retried_ok"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped is recorded for optional steps whose data field is empty.
	OutcomeSkipped Outcome = "skipped"
)

// StepResult records one step of a run.
type StepResult struct {
	Step    string
	Outcome Outcome
	Elapsed time.Duration
	// Evidence is the snapshot reference captured when the step failed.
	Evidence string
	// Error is the failure detail; empty unless Outcome is failed.
	Error string
	// Recovered lists the interstitials dismissed during the step.
	Recovered []string
	Logs      []logging.LogEntry
}

// Status is the terminal status of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Verdict is the terminal outcome of a run.
type Verdict struct {
	Status Status
	// Step is the failed step; empty for completed runs.
	Step   string
	Kind   Kind
	Reason string
	// Expected and Observed are set for verification results.
	Expected string
	Observed string
}

// Passed reports whether the run completed.
func (v Verdict) Passed() bool {
	return v.Status == StatusCompleted
}

// RunContext is the state of one scenario run. It is created per Run call and
// owns the application handle until the run reaches a terminal state.
type RunContext struct {
	ID         string
	Scenario   scenario.ScenarioRow
	Settings   scenario.Settings
	StartedAt  time.Time
	FinishedAt time.Time
	// Path is every state the run entered, in order.
	Path    []State
	Steps   []StepResult
	Verdict Verdict

	state     State
	app       driver.Application
	closeOnce sync.Once
	closeErr  error
}

// State returns the current state.
func (rc *RunContext) State() State {
	return rc.state
}

// Elapsed returns the wall time of the run.
func (rc *RunContext) Elapsed() time.Duration {
	return rc.FinishedAt.Sub(rc.StartedAt)
}

// Step returns the result recorded for the named step.
func (rc *RunContext) Step(name string) (StepResult, bool) {
	for _, s := range rc.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// EvidenceRefs returns every evidence reference recorded in the run.
func (rc *RunContext) EvidenceRefs() []string {
	var refs []string
	for _, s := range rc.Steps {
		if s.Evidence != "" {
			refs = append(refs, s.Evidence)
		}
	}
	return refs
}

// close releases the application handle. Only the first call reaches the adapter.
func (rc *RunContext) close(ctx context.Context, adapter driver.Adapter) error {
	rc.closeOnce.Do(func() {
		if rc.app == nil {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				rc.closeErr = fmt.Errorf("adapter panic: %v", p)
			}
			rc.app = nil
		}()
		rc.closeErr = adapter.Close(ctx, rc.app)
	})
	return rc.closeErr
}
