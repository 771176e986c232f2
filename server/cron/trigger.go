// Package cron triggers scenario batches on cron schedules.
//
// Example usage:
//
//	trigger, err := cron.NewCronTrigger("0 2 * * *", func() error {
//	    return server.Trigger([]string{"all"})
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// CronTrigger calls a callback according to a cron schedule.
type CronTrigger struct {
	spec     string
	schedule cron.Schedule
	callback func() error
	logger   *slog.Logger
	now      func() time.Time
}

// NewCronTrigger creates a new CronTrigger. The spec follows standard cron
// format (minute, hour, day, month, weekday) or a descriptor such as @daily.
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewCronTrigger(spec string, callback func() error, logger *slog.Logger) (*CronTrigger, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &CronTrigger{
		spec:     spec,
		schedule: schedule,
		callback: callback,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Spec returns the cron expression.
func (ct *CronTrigger) Spec() string {
	return ct.spec
}

// Start launches a goroutine that fires the callback on schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (ct *CronTrigger) Start(ctx context.Context) {
	go ct.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (ct *CronTrigger) NextRun() time.Time {
	return ct.schedule.Next(ct.now())
}

func (ct *CronTrigger) loop(ctx context.Context) {
	for {
		nextRun := ct.schedule.Next(ct.now())
		wait := time.Until(nextRun)

		ct.logger.Debug("waiting for next scheduled batch",
			"next_run", nextRun,
			"wait_duration", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			ct.logger.Info("cron trigger shutting down", "schedule", ct.spec)
			return
		case <-timer.C:
			ct.fire()
		}
	}
}

func (ct *CronTrigger) fire() {
	ct.logger.Info("starting scheduled batch", "schedule", ct.spec)

	if err := ct.callback(); err != nil {
		ct.logger.Warn("scheduled batch not started", "schedule", ct.spec, "error", err)
	}
}
