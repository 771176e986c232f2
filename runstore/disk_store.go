package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nomis52/posrunner/report"
)

const fileTimeLayout = "2006-01-02T15-04-05"

// DiskStore persists run history to disk as one JSON document per run.
type DiskStore struct {
	dir      string
	logger   *slog.Logger
	maxCount int
	runs     []diskRun // protected by mu, most recent first
	mu       sync.Mutex
}

type diskRun struct {
	file string
	run  *report.Run
}

// NewDiskStore creates a new disk-backed store.
// The directory is created if it doesn't exist, and existing runs are loaded.
func NewDiskStore(dir string, maxCount int, logger *slog.Logger) (*DiskStore, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("max count must be positive, got %d", maxCount)
	}
	s := &DiskStore{
		dir:      dir,
		logger:   logger.With("component", "run_history"),
		maxCount: maxCount,
		runs:     make([]diskRun, 0),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	runs, err := s.load()
	if err != nil {
		s.logger.Warn("failed to load existing runs", "error", err)
	} else {
		s.runs = runs
	}

	return s, nil
}

// History returns all runs as summaries.
func (s *DiskStore) History() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Summary, len(s.runs))
	for i, r := range s.runs {
		result[i] = summarize(r.run)
	}
	return result
}

// Get returns a copy of the stored run.
func (s *DiskStore) Get(id string) (*report.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.run.ID == id {
			c := *r.run
			return &c, true
		}
	}
	return nil, false
}

// Save writes the run to disk and updates the in-memory history. Files
// beyond the max count are removed, oldest first.
func (s *DiskStore) Save(run *report.Run) error {
	if run.StartedAt.IsZero() {
		return fmt.Errorf("cannot save run without start time")
	}
	if run.ID == "" {
		return fmt.Errorf("cannot save run without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	filename := run.StartedAt.UTC().Format(fileTimeLayout) + "_" + id + ".json"
	path := filepath.Join(s.dir, filename)

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}

	c := *run
	s.runs = append(s.runs, diskRun{file: filename, run: &c})
	sortRuns(s.runs)

	for len(s.runs) > s.maxCount {
		oldest := s.runs[len(s.runs)-1]
		if err := os.Remove(filepath.Join(s.dir, oldest.file)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to prune run file", "file", oldest.file, "error", err)
		}
		s.runs = s.runs[:len(s.runs)-1]
	}

	s.logger.Debug("saved run to disk", "path", path)
	return nil
}

// Report saves the run.
func (s *DiskStore) Report(ctx context.Context, run *report.Run) error {
	return s.Save(run)
}

// Reload re-loads all runs from disk.
func (s *DiskStore) Reload() error {
	runs, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = runs
	return nil
}

func (s *DiskStore) load() ([]diskRun, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	runs := make([]diskRun, 0, min(len(files), s.maxCount))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read run file", "file", path, "error", err)
			continue
		}

		var run report.Run
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn("failed to parse run file", "file", path, "error", err)
			continue
		}
		if run.ID == "" {
			s.logger.Warn("skipping run file without id", "file", path)
			continue
		}

		runs = append(runs, diskRun{file: file.Name(), run: &run})
	}

	sortRuns(runs)
	if len(runs) > s.maxCount {
		runs = runs[:s.maxCount]
	}

	s.logger.Info("loaded run history from disk", "count", len(runs))
	return runs, nil
}

// sortRuns orders by start time descending (most recent first).
func sortRuns(runs []diskRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].run.StartedAt.After(runs[j].run.StartedAt)
	})
}
