package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomis52/posrunner/batch"
	"github.com/nomis52/posrunner/report"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Timeout    time.Duration
	NoEvidence bool
	Evidence   bool
	Filter     string
	Parallel   int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario|all>...",
		Short: "Run scenarios against the POS",
		Long: `Run one or more named scenarios, or every scenario with "all".

A scenario that fails never stops the others. Each run writes a report
document; a batch summary is written once all scenarios finished.

Example:
  posrunner run basic_cash_sale
  posrunner run all --filter 'promotion_code != ""' --parallel 2
  posrunner run all --timeout 30s --no-evidence`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "replace the DEFAULT_TIMEOUT setting")
	cmd.Flags().BoolVar(&opts.NoEvidence, "no-evidence", false, "never capture failure snapshots")
	cmd.Flags().BoolVar(&opts.Evidence, "evidence", false, "always capture failure snapshots")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "expression selecting rows when running all")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "number of POS instances, overrides driver.instances")
	cmd.MarkFlagsMutuallyExclusive("evidence", "no-evidence")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, args []string) error {
	if opts.Timeout < 0 || opts.Parallel < 0 {
		return configError("--timeout and --parallel must not be negative", nil)
	}
	a, err := loadApp(opts.RootOptions)
	if err != nil {
		return err
	}

	filter, err := batch.CompileFilter(opts.Filter)
	if err != nil {
		return configError("invalid filter", err)
	}
	names, err := batch.Select(a.store, args, filter)
	if err != nil {
		return configError("failed to select scenarios", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no scenarios selected")
		return nil
	}

	ro := runtimeOptions{timeout: opts.Timeout, parallel: opts.Parallel, registry: a.newRegistry()}
	switch {
	case opts.NoEvidence:
		ro.evidence = new(bool)
	case opts.Evidence:
		enabled := true
		ro.evidence = &enabled
	}

	rt, err := a.newRuntime(ro)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := rt.runner.Run(ctx, names)
	if b != nil {
		printBatch(cmd.OutOrStdout(), b)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &ExitError{Code: report.ExitFailed, Message: "interrupted", Err: err}
		}
		return err
	}
	if code := b.ExitCode(); code != report.ExitPassed {
		return failed(code)
	}
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printBatch(w io.Writer, b *report.Batch) {
	tw := newTable(w)
	fmt.Fprintln(tw, "SCENARIO\tSTATUS\tKIND\tSTEP\tELAPSED\tREASON")
	for _, r := range b.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Scenario, r.Status, dash(r.Kind), dash(r.Step),
			(time.Duration(r.ElapsedMS) * time.Millisecond).String(), dash(r.Reason))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d scenarios: %d passed, %d failed, %d errors (%s)\n",
		b.Total, b.Passed, b.Failed, b.Errors, time.Duration(b.ElapsedMS)*time.Millisecond)
}
