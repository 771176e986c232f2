package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nomis52/posrunner/scenario"
)

// NewScenariosCommand creates the scenarios command group.
func NewScenariosCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Inspect and edit the scenario data file",
	}
	cmd.AddCommand(newScenariosListCommand(rootOpts))
	cmd.AddCommand(newScenariosShowCommand(rootOpts))
	cmd.AddCommand(newScenariosValidateCommand(rootOpts))
	cmd.AddCommand(newScenariosAddCommand(rootOpts))
	return cmd
}

func newScenariosListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenarios in file order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			names, err := a.store.Names()
			if err != nil {
				return configError("failed to load scenarios", err)
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "NAME\tITEMS\tPROMOTION\tLOYALTY\tTENDER\tVALID")
			for _, name := range names {
				row, err := a.store.GetScenario(name)
				if err != nil {
					fmt.Fprintf(tw, "%s\t-\t-\t-\t-\tno\n", name)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\tyes\n",
					name, len(row.Items), dash(row.PromotionCode), dash(row.LoyaltyNumber), row.TenderAmount.String())
			}
			return tw.Flush()
		},
	}
}

func newScenariosShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print one scenario's fields as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			row, err := a.store.GetScenario(args[0])
			if err != nil {
				return configError("", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(row.Fields()); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newScenariosValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [name]...",
		Short: "Check scenario rows and settings without touching the POS",
		Long: `Check that every named scenario (all when none are named) passes field
validation and that the settings resolve. Exits 2 when anything is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			problems := 0
			settings, err := a.store.LoadSettings()
			if err == nil {
				err = settings.Validate()
			}
			if err != nil {
				problems++
				fmt.Fprintf(out, "settings: %v\n", err)
			}

			names := args
			if len(names) == 0 {
				if names, err = a.store.Names(); err != nil {
					return configError("failed to load scenarios", err)
				}
			}
			for _, name := range names {
				if _, err := a.store.GetScenario(name); err != nil {
					problems++
					fmt.Fprintf(out, "%s: %v\n", name, err)
				}
			}

			if problems > 0 {
				return configError(fmt.Sprintf("%d problem(s) found", problems), nil)
			}
			fmt.Fprintf(out, "%d scenario(s) valid\n", len(names))
			return nil
		},
	}
}

func newScenariosAddCommand(rootOpts *RootOptions) *cobra.Command {
	values := make(map[string]*string)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Append a scenario row to the data file",
		Long: `Append a validated scenario row. Multi-item rows separate the ean_code,
item_name, expected_price and quantity values with ';'.

Example:
  posrunner scenarios add two_items --user-name cashier1 --password 1234 \
    --ean-code '9300675079686;9300675079687' --item-name 'Milk;Bread' \
    --expected-price '2.50;3.49' --quantity '2;1' --cash-tender-amount 10.00`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(rootOpts)
			if err != nil {
				return err
			}
			rec := map[string]string{scenario.ColScenarioName: args[0]}
			for col, v := range values {
				rec[col] = *v
			}

			if err := scenario.AppendScenario(a.cfg.Data.Scenarios, rec); err != nil {
				var verr *scenario.ValidationError
				if errors.As(err, &verr) || errors.Is(err, scenario.ErrDuplicate) {
					return configError("scenario rejected", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", args[0], a.cfg.Data.Scenarios)
			return nil
		},
	}

	columns := make([]string, 0, len(scenario.AllColumns))
	for _, col := range scenario.AllColumns {
		if col != scenario.ColScenarioName {
			columns = append(columns, col)
		}
	}
	sort.Strings(columns)
	for _, col := range columns {
		values[col] = cmd.Flags().String(flagName(col), "", col+" column value")
	}
	return cmd
}

// flagName turns a column name into a flag name: cash_tender_amount -> cash-tender-amount.
func flagName(col string) string {
	return strings.ReplaceAll(col, "_", "-")
}
