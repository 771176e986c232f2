// Package evidence persists failure snapshots and fans finished runs out to
// the diagnostics reporters.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotPNG is returned when a snapshot is not a decodable PNG image.
var ErrNotPNG = errors.New("snapshot is not a PNG image")

// Capturer writes snapshots to <dir>/<run_id>/<step>.png.
type Capturer struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Capturer) {
		c.logger = logger.With("component", "evidence")
	}
}

// NewCapturer creates a Capturer rooted at dir.
func NewCapturer(dir string, opts ...Option) *Capturer {
	c := &Capturer{
		dir:    dir,
		logger: slog.Default().With("component", "evidence"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the evidence root.
func (c *Capturer) Dir() string {
	return c.dir
}

// Save writes the snapshot and returns its path as the evidence reference.
func (c *Capturer) Save(ctx context.Context, runID, step string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotPNG, err)
	}

	runDir := filepath.Join(c.dir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create evidence directory: %w", err)
	}
	path := filepath.Join(runDir, fileName(step)+".png")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	c.logger.Info("saved failure snapshot", "run_id", runID, "step", step, "path", path, "bytes", len(data))
	return path, nil
}

func fileName(step string) string {
	if step == "" {
		return "snapshot"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, step)
}
