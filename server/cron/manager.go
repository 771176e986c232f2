package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Runnable is implemented by anything that can start a batch of scenarios.
type Runnable interface {
	Trigger(scenarios []string) error
}

// CronTriggerManager manages one CronTrigger per trigger spec.
type CronTriggerManager struct {
	triggers []*CronTrigger
	specs    []TriggerSpec
	logger   *slog.Logger
}

// NewCronTriggerManager creates a CronTrigger for each spec. Specs are
// validated against known scenario names; a nil map skips that check.
func NewCronTriggerManager(specs []TriggerSpec, runnable Runnable, logger *slog.Logger, known map[string]bool) (*CronTriggerManager, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no triggers configured")
	}

	m := &CronTriggerManager{logger: logger.With("component", "cron")}
	for _, spec := range specs {
		if err := spec.Validate(known); err != nil {
			return nil, fmt.Errorf("trigger '%s:%s': %w", strings.Join(spec.Scenarios, scenarioListSeparator), spec.CronSpec, err)
		}
		spec = spec.normalized()

		scenarios := spec.Scenarios
		trigger, err := NewCronTrigger(spec.CronSpec, func() error {
			return runnable.Trigger(scenarios)
		}, m.logger)
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s': %w", spec.CronSpec, err)
		}
		m.triggers = append(m.triggers, trigger)
		m.specs = append(m.specs, spec)
	}

	for i, trigger := range m.triggers {
		m.logger.Info("trigger registered",
			"index", i,
			"scenarios", m.specs[i].Scenarios,
			"schedule", m.specs[i].CronSpec,
			"next_run", trigger.NextRun(),
		)
	}
	return m, nil
}

// Start launches all triggers. Each trigger runs in its own goroutine.
// Returns immediately. All goroutines exit when ctx is cancelled.
func (m *CronTriggerManager) Start(ctx context.Context) {
	for _, trigger := range m.triggers {
		trigger.Start(ctx)
	}
}

// Specs returns the registered trigger specs.
func (m *CronTriggerManager) Specs() []TriggerSpec {
	return append([]TriggerSpec(nil), m.specs...)
}

// NextRun returns the earliest scheduled run time across all triggers.
// Returns zero time if there are no triggers.
func (m *CronTriggerManager) NextRun() time.Time {
	var earliest time.Time
	for i, t := range m.triggers {
		next := t.NextRun()
		if i == 0 || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest
}
