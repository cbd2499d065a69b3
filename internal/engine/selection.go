package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/michaelbrown/proctor/internal/testcase"
)

// Selection narrows a run to a subset of the suite's tests. The zero value
// selects everything. Names, Filter, and PublicOnly all have to agree for a
// test to run; tests they exclude still show up in the results as skipped.
type Selection struct {
	// Names limits the run to exactly these test names.
	Names []string
	// Filter is a predicate over name, type, public, and index, for example
	// `type == "interactive" && name contains "board"`.
	Filter string
	// PublicOnly drops tests not marked public.
	PublicOnly bool
}

// apply evaluates the selection against every test up front, so a bad filter
// fails the run before any test executes.
func (s Selection) apply(tests []testcase.TestCase) ([]bool, error) {
	var names map[string]bool
	if len(s.Names) > 0 {
		names = make(map[string]bool, len(s.Names))
		for _, n := range s.Names {
			names[n] = true
		}
	}

	var program *vm.Program
	if s.Filter != "" {
		var err error
		program, err = expr.Compile(s.Filter, expr.Env(filterEnv(0, &testcase.TestCase{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile filter %q: %w", s.Filter, err)
		}
	}

	selected := make([]bool, len(tests))
	for i := range tests {
		tc := &tests[i]
		if names != nil && !names[tc.Name] {
			continue
		}
		if s.PublicOnly && !tc.Public {
			continue
		}
		if program != nil {
			output, err := expr.Run(program, filterEnv(i, tc))
			if err != nil {
				return nil, fmt.Errorf("eval filter %q: %w", s.Filter, err)
			}
			if ok, _ := output.(bool); !ok {
				continue
			}
		}
		selected[i] = true
	}
	return selected, nil
}

func filterEnv(index int, tc *testcase.TestCase) map[string]any {
	return map[string]any{
		"name":   tc.Name,
		"type":   string(tc.Type),
		"public": tc.Public,
		"index":  index,
	}
}
