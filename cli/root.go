// Package cli implements the posrunner command surface.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath    string
	ScenariosPath string
	SettingsPath  string
	LogLevel      string

	// Logger replaces the configured logger. Used by tests.
	Logger *slog.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posrunner",
		Short: "Data-driven POS UI test runner",
		Long: `posrunner drives a point-of-sale client through scripted sales described
by rows of a scenario CSV file, verifies the displayed total and writes a
report for every run.

Exit status is 0 when every scenario passed, 1 when at least one failed
and 2 on configuration or data errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (defaults apply when omitted)")
	cmd.PersistentFlags().StringVar(&opts.ScenariosPath, "scenarios", "", "scenario CSV file, overrides data.scenarios")
	cmd.PersistentFlags().StringVar(&opts.SettingsPath, "settings", "", "settings CSV file, overrides data.settings")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides logging.level")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewScenariosCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Execute runs the command line and returns the process exit status.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(&RootOptions{})
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err != nil && !silent(err) {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return ExitCode(err)
}
