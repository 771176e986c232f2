package cron

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	triggerSeparator      = ";"
	scenarioSeparator     = ":"
	scenarioListSeparator = ","
)

// AllScenarios selects every scenario in the data file when the trigger fires.
const AllScenarios = "all"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// TriggerSpec is a set of scenarios and the schedule to run them on.
type TriggerSpec struct {
	Scenarios []string `yaml:"scenarios"`
	CronSpec  string   `yaml:"schedule"`
}

// ParseTriggerSpecs parses a multi-trigger specification string.
// The format is: scenario1,scenario2:cron_expression;all:cron_expression2
//
// Example:
//
//	"basic_cash_sale,promo_sale:0 2 * * *;all:@daily"
func ParseTriggerSpecs(spec string, known map[string]bool) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	var specs []TriggerSpec
	for _, triggerStr := range strings.Split(spec, triggerSeparator) {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue
		}

		// Cron expressions never contain a colon, so the first one ends the scenario list.
		scenariosStr, cronSpec, ok := strings.Cut(triggerStr, scenarioSeparator)
		if !ok {
			return nil, fmt.Errorf("invalid trigger spec: expected format 'scenarios:cron', got '%s'", triggerStr)
		}
		ts := TriggerSpec{
			Scenarios: strings.Split(scenariosStr, scenarioListSeparator),
			CronSpec:  cronSpec,
		}
		if err := ts.Validate(known); err != nil {
			return nil, fmt.Errorf("invalid trigger spec '%s': %w", triggerStr, err)
		}
		specs = append(specs, ts.normalized())
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}
	return specs, nil
}

// Validate checks the scenario list and the cron expression. A nil known map
// skips the scenario name check.
func (ts TriggerSpec) Validate(known map[string]bool) error {
	n := ts.normalized()
	if len(n.Scenarios) == 0 {
		return errors.New("missing scenarios")
	}
	if n.CronSpec == "" {
		return errors.New("missing cron schedule")
	}

	seen := make(map[string]bool, len(n.Scenarios))
	for _, s := range n.Scenarios {
		if seen[s] {
			return fmt.Errorf("duplicate scenario '%s'", s)
		}
		seen[s] = true
		if s == AllScenarios {
			if len(n.Scenarios) > 1 {
				return fmt.Errorf("'%s' cannot be combined with other scenarios", AllScenarios)
			}
			continue
		}
		if known != nil && !known[s] {
			return fmt.Errorf("unknown scenario '%s' (available: %s)", s, formatKnown(known))
		}
	}

	if _, err := parser.Parse(n.CronSpec); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

func (ts TriggerSpec) normalized() TriggerSpec {
	out := TriggerSpec{CronSpec: strings.TrimSpace(ts.CronSpec)}
	for _, s := range ts.Scenarios {
		if s = strings.TrimSpace(s); s != "" {
			out.Scenarios = append(out.Scenarios, s)
		}
	}
	return out
}

func formatKnown(known map[string]bool) string {
	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
