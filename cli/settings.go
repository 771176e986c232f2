package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the POS settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			settings, err := a.store.LoadSettings()
			if err != nil {
				return configError("failed to load settings", err)
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "SETTING\tVALUE\tDESCRIPTION")
			for _, row := range settings.Rows() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Name, dash(row.Value), row.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if err := settings.Validate(); err != nil {
				return configError("settings are incomplete", err)
			}
			return nil
		},
	}
}
