package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nomis52/posrunner/metrics"
	"github.com/nomis52/posrunner/server"
	"github.com/nomis52/posrunner/server/cron"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	Cron   string
	Listen string
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Serve the scheduler: cron triggered batches and an HTTP API",
		Long: `Run scenario batches on cron schedules and serve the status, history and
metrics endpoints until interrupted. --cron replaces schedule.triggers.

Trigger format: scenario1,scenario2:cron;all:cron

Example:
  posrunner schedule --cron 'all:0 2 * * *'
  posrunner schedule --cron 'basic_cash_sale:@hourly;all:@daily' --listen :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Cron, "cron", "", "trigger spec, replaces schedule.triggers")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address, overrides schedule.listen")

	return cmd
}

func runSchedule(cmd *cobra.Command, opts *ScheduleOptions) error {
	a, err := loadApp(opts.RootOptions)
	if err != nil {
		return err
	}

	triggers := a.cfg.Schedule.Triggers
	if opts.Cron != "" {
		names, err := a.store.Names()
		if err != nil {
			return configError("failed to load scenarios", err)
		}
		known := make(map[string]bool, len(names))
		for _, n := range names {
			known[n] = true
		}
		if triggers, err = cron.ParseTriggerSpecs(opts.Cron, known); err != nil {
			return configError("invalid --cron", err)
		}
	}
	listen := a.cfg.Schedule.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}

	registry, err := metrics.NewScrapeRegistry(metrics.WithPrefix(a.cfg.Monitoring.MetricsPrefix))
	if err != nil {
		return err
	}
	rt, err := a.newRuntime(runtimeOptions{registry: registry})
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.New(&a.cfg, rt.runner, a.store, rt.history,
		server.WithLogger(a.logger),
		server.WithListenAddr(listen),
		server.WithMetricsHandler(registry.Handler()),
		server.WithTriggers(triggers),
	)
	if err != nil {
		return configError("failed to create scheduler", err)
	}

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
