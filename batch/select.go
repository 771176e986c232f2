package batch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nomis52/posrunner/scenario"
)

// All selects every scenario in the data file.
const All = "all"

// Catalog lists and resolves scenarios.
type Catalog interface {
	Names() ([]string, error)
	GetScenario(name string) (scenario.ScenarioRow, error)
}

// Filter is a compiled boolean expression over scenario row fields, for
// example `promotion_code != "" && quantity > 1`.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles a filter expression. Field names are the scenario
// CSV column names plus item_count and quantity.
func CompileFilter(source string) (*Filter, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	env := scenario.ScenarioRow{}.Fields()
	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

// Match evaluates the filter against a row. A nil Filter matches everything.
func (f *Filter) Match(row scenario.ScenarioRow) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, row.Fields())
	if err != nil {
		return false, fmt.Errorf("eval filter %q on %s: %w", f.source, row.Name, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("filter %q did not return bool (got %T)", f.source, out)
	}
	return ok, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Select resolves command arguments into scenario names. The single argument
// "all" expands to every scenario in file order. Rows that fail validation
// are kept so the batch reports them as data errors rather than hiding them
// behind the filter.
func Select(catalog Catalog, args []string, filter *Filter) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("no scenarios given")
	}

	names := args
	if len(args) == 1 && args[0] == All {
		all, err := catalog.Names()
		if err != nil {
			return nil, err
		}
		names = all
	} else if filter != nil {
		return nil, errors.New("a filter can only be combined with \"all\"")
	}

	if filter == nil {
		return dedupe(names), nil
	}

	var selected []string
	for _, name := range dedupe(names) {
		row, err := catalog.GetScenario(name)
		if err != nil {
			var verr *scenario.ValidationError
			if errors.As(err, &verr) {
				selected = append(selected, name)
				continue
			}
			return nil, err
		}
		ok, err := filter.Match(row)
		if err != nil {
			return nil, err
		}
		if ok {
			selected = append(selected, name)
		}
	}
	return selected, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
