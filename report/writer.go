package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want json or yaml)", s)
	}
}

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// Encode writes v to w in the given format.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// Writer writes report documents into a directory.
type Writer struct {
	dir    string
	format Format
	logger *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the writer logger.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger.With("component", "report_writer")
	}
}

// NewWriter creates a Writer. The directory is created on first write.
func NewWriter(dir string, format Format, opts ...WriterOption) *Writer {
	w := &Writer{
		dir:    dir,
		format: format,
		logger: slog.Default().With("component", "report_writer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteRun writes the document for one run and returns its path.
func (w *Writer) WriteRun(r *Run) (string, error) {
	name := fmt.Sprintf("%s_%s_%s", r.StartedAt.UTC().Format("2006-01-02T15-04-05"), safeName(r.Scenario), shortID(r.ID))
	return w.write(name, r)
}

// WriteBatch writes a batch summary and returns its path.
func (w *Writer) WriteBatch(b *Batch) (string, error) {
	name := fmt.Sprintf("batch_%s_%s", b.StartedAt.UTC().Format("2006-01-02T15-04-05"), shortID(b.ID))
	return w.write(name, b)
}

// Report implements the diagnostics reporter contract by writing the run document.
func (w *Writer) Report(ctx context.Context, r *Run) error {
	_, err := w.WriteRun(r)
	return err
}

func (w *Writer) write(name string, v any) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(w.dir, name+w.format.Ext())

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Encode(f, w.format, v); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	w.logger.Debug("wrote report", "path", path)
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// safeName keeps scenario names usable as file name fragments.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
