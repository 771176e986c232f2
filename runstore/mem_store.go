package runstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/nomis52/posrunner/report"
)

// MemoryStore keeps run history in memory only (no persistence).
type MemoryStore struct {
	maxCount int
	runs     []*report.Run // protected by mu, most recent first
	mu       sync.Mutex
}

// NewMemoryStore creates a new in-memory store holding at most maxCount runs.
// A maxCount of zero or less keeps every run.
func NewMemoryStore(maxCount int) *MemoryStore {
	return &MemoryStore{
		maxCount: maxCount,
		runs:     make([]*report.Run, 0),
	}
}

// History returns all runs as summaries.
func (s *MemoryStore) History() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Summary, len(s.runs))
	for i, run := range s.runs {
		result[i] = summarize(run)
	}
	return result
}

// Get returns a copy of the stored run.
func (s *MemoryStore) Get(id string) (*report.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			c := *run
			return &c, true
		}
	}
	return nil, false
}

// Save stores a run in memory.
func (s *MemoryStore) Save(run *report.Run) error {
	if run.ID == "" {
		return fmt.Errorf("cannot save run without id")
	}
	c := *run

	s.mu.Lock()
	defer s.mu.Unlock()

	// Prepend to keep most recent first
	s.runs = append([]*report.Run{&c}, s.runs...)
	if s.maxCount > 0 && len(s.runs) > s.maxCount {
		s.runs = s.runs[:s.maxCount]
	}
	return nil
}

// Report saves the run.
func (s *MemoryStore) Report(ctx context.Context, run *report.Run) error {
	return s.Save(run)
}
