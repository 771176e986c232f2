package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nomis52/posrunner/report"
	"github.com/nomis52/posrunner/runstore"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit      int
	FailedOnly bool
	Scenario   string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or print one run's report",
		Long: `List the runs kept in history.dir, newest first. With a run ID, print
that run's full report document. History kept in memory does not survive
the process, so this needs history.dir to be configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts.RootOptions)
			if err != nil {
				return err
			}
			if a.cfg.History.Dir == "" {
				return configError("history.dir is not configured", nil)
			}
			store, err := a.newHistory()
			if err != nil {
				return configError("failed to open run history", err)
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, ok := store.Get(args[0])
				if !ok {
					return configError(fmt.Sprintf("run %q not found", args[0]), nil)
				}
				format, err := report.ParseFormat(a.cfg.Report.Format)
				if err != nil {
					return configError("invalid report format", err)
				}
				return report.Encode(out, format, run)
			}

			history := runstore.Filter(store.History(), func(s runstore.Summary) bool {
				if opts.FailedOnly && s.Passed() {
					return false
				}
				return opts.Scenario == "" || s.Scenario == opts.Scenario
			})
			if opts.Limit > 0 && len(history) > opts.Limit {
				history = history[:opts.Limit]
			}

			now := time.Now()
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tSCENARIO\tSTATUS\tKIND\tSTARTED\tELAPSED")
			for _, s := range history {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.ID, s.Scenario, s.Status, dash(s.Kind),
					humanize.RelTime(s.StartedAt, now, "ago", "from now"), s.Elapsed())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 lists all)")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "list only runs that did not complete")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "list only runs of this scenario")

	return cmd
}
