// Package types provides shared types for the server package and its subpackages.
package types

import (
	"time"

	"github.com/nomis52/posrunner/buildinfo"
	"github.com/nomis52/posrunner/report"
)

// ServerProperties holds metadata about the running server instance.
type ServerProperties struct {
	Build     buildinfo.Properties `json:"build"`
	StartedAt time.Time            `json:"started_at"`
	Hostname  string               `json:"hostname"`
}

// Status is the scheduler state reported by /api/status.
type Status struct {
	Server    ServerProperties `json:"server"`
	Uptime    string           `json:"uptime"`
	Running   bool             `json:"running"`
	Workers   int              `json:"workers"`
	NextRun   *time.Time       `json:"next_run,omitempty"`
	LastBatch *report.Batch    `json:"last_batch,omitempty"`
}
