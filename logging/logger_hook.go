package logging

import (
	"log/slog"
)

// LoggerHook creates step-specific loggers from a base logger. The engine
// stays agnostic of how (or whether) step logs are captured.
type LoggerHook interface {
	LoggerForStep(baseLogger *slog.Logger, stepID string) *slog.Logger
}

// CapturingLoggerHook creates loggers that record into a LogCollector.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook creates a hook that captures every step's logs into collector.
func NewCapturingLoggerHook(collector *LogCollector) *CapturingLoggerHook {
	return &CapturingLoggerHook{
		collector: collector,
	}
}

// LoggerForStep wraps baseLogger so every record is also stored under stepID.
func (p *CapturingLoggerHook) LoggerForStep(baseLogger *slog.Logger, stepID string) *slog.Logger {
	return slog.New(NewCapturingHandler(baseLogger.Handler(), p.collector, stepID)).With("step", stepID)
}

// PassthroughLoggerHook tags loggers with the step without capturing.
type PassthroughLoggerHook struct{}

// LoggerForStep implements LoggerHook.
func (PassthroughLoggerHook) LoggerForStep(baseLogger *slog.Logger, stepID string) *slog.Logger {
	return baseLogger.With("step", stepID)
}
