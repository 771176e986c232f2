package logging

import (
	"sync"
	"time"
)

// LogEntry is a single captured log record.
type LogEntry struct {
	Time       time.Time      `json:"time" yaml:"time"`
	Level      string         `json:"level" yaml:"level"`
	Message    string         `json:"message" yaml:"message"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// LogCollector stores captured log entries per step. It is safe for concurrent use.
type LogCollector struct {
	mu   sync.RWMutex
	logs map[string][]LogEntry
}

// NewLogCollector creates a new LogCollector.
func NewLogCollector() *LogCollector {
	return &LogCollector{
		logs: make(map[string][]LogEntry),
	}
}

// AddLog appends an entry for stepID.
func (c *LogCollector) AddLog(stepID string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs[stepID] = append(c.logs[stepID], entry)
}

// GetLogs returns a copy of the entries for stepID, or nil.
func (c *LogCollector) GetLogs(stepID string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, exists := c.logs[stepID]
	if !exists {
		return nil
	}
	result := make([]LogEntry, len(logs))
	copy(result, logs)
	return result
}
