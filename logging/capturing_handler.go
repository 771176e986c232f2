package logging

import (
	"context"
	"log/slog"
)

// CapturingHandler wraps an slog.Handler to record every log line emitted for
// one scenario step while still passing records the underlying handler wants
// through to it.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *LogCollector
	stepID     string
	attrs      []slog.Attr
	groups     []string
}

// NewCapturingHandler creates a handler that records into collector under stepID.
func NewCapturingHandler(underlying slog.Handler, collector *LogCollector, stepID string) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		stepID:     stepID,
	}
}

// Enabled always returns true: step logs are captured at every level,
// including debug lines the console handler would drop.
func (h *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// Handle records r and forwards it if the underlying handler accepts its level.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, attr := range h.attrs {
		entry.Attributes[attr.Key] = resolveValue(attr.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[h.qualify(a.Key)] = resolveValue(a.Value)
		return true
	})
	h.collector.AddLog(h.stepID, entry)

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

// WithAttrs returns a new CapturingHandler so capture survives logger.With chains.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}

	return &CapturingHandler{
		underlying: h.underlying.WithAttrs(attrs),
		collector:  h.collector,
		stepID:     h.stepID,
		attrs:      newAttrs,
		groups:     h.groups,
	}
}

// WithGroup returns a new CapturingHandler so capture survives logger.WithGroup chains.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name

	return &CapturingHandler{
		underlying: h.underlying.WithGroup(name),
		collector:  h.collector,
		stepID:     h.stepID,
		attrs:      h.attrs,
		groups:     newGroups,
	}
}

// qualify prefixes key with the open groups, dot separated.
func (h *CapturingHandler) qualify(key string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return key
}

// resolveValue converts a slog.Value to a JSON-serializable value.
func resolveValue(v slog.Value) any {
	v = v.Resolve()

	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindAny:
		a := v.Any()
		if err, ok := a.(error); ok {
			return err.Error()
		}
		if s, ok := a.(interface{ String() string }); ok {
			return s.String()
		}
		return a
	case slog.KindGroup:
		attrs := v.Group()
		group := make(map[string]any, len(attrs))
		for _, attr := range attrs {
			group[attr.Key] = resolveValue(attr.Value)
		}
		return group
	default:
		return v.Any()
	}
}
