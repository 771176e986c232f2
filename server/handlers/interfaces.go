// Package handlers provides HTTP handlers for the posrunner scheduler.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"github.com/nomis52/posrunner/config"
	"github.com/nomis52/posrunner/report"
	"github.com/nomis52/posrunner/runstore"
	"github.com/nomis52/posrunner/server/types"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// BatchTrigger starts a background batch over the named scenarios.
type BatchTrigger interface {
	Trigger(scenarios []string) error
}

// StatusProvider provides access to the scheduler status.
type StatusProvider interface {
	Status() types.Status
}

// HistoryProvider provides access to run history.
type HistoryProvider interface {
	History() []runstore.Summary
	Get(id string) (*report.Run, bool)
}

// ScenarioProvider lists the scenario catalog.
type ScenarioProvider interface {
	Names() ([]string, error)
	Invalid() (map[string]error, error)
}
