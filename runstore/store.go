// Package runstore keeps the history of finished scenario runs.
package runstore

import (
	"context"
	"time"

	"github.com/nomis52/posrunner/report"
)

// Store manages persistence of run history. Both implementations satisfy
// the diagnostics reporter contract so they can be registered directly.
type Store interface {
	// History returns summaries of the stored runs, most recent first.
	History() []Summary
	// Get returns the full document of one run.
	Get(id string) (*report.Run, bool)
	// Save stores a finished run.
	Save(run *report.Run) error
	Report(ctx context.Context, run *report.Run) error
}

// Summary is the listing view of a stored run.
type Summary struct {
	ID         string    `json:"id"`
	Scenario   string    `json:"scenario"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	FailedStep string    `json:"failed_step,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`
}

// Passed reports whether the run completed.
func (s Summary) Passed() bool {
	return s.Status == report.StatusCompleted
}

// Elapsed returns the run duration.
func (s Summary) Elapsed() time.Duration {
	return time.Duration(s.ElapsedMS) * time.Millisecond
}

func summarize(run *report.Run) Summary {
	return Summary{
		ID:         run.ID,
		Scenario:   run.Scenario,
		Status:     run.Status,
		Kind:       run.Kind,
		FailedStep: run.FailedStep,
		Reason:     run.Reason,
		StartedAt:  run.StartedAt,
		ElapsedMS:  run.ElapsedMS,
	}
}

// Filter keeps the summaries for which keep returns true.
func Filter(history []Summary, keep func(Summary) bool) []Summary {
	out := make([]Summary, 0, len(history))
	for _, s := range history {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
