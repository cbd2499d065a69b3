package testcase

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError is a single finding with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // syntax, schema, semantics
	Path     string `json:"path"`  // JSON-path-like location, e.g. "tests[2].steps[0]"
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile runs the full pipeline on a suite file: strict decode,
// JSON Schema check, then domain rules. The suite is returned even when
// findings exist, unless the file failed to decode at all.
func ValidateFile(path string) (*Suite, []*ValidationError) {
	suite, err := Load(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "syntax",
			Message:  err.Error(),
			Severity: "error",
		}}
	}

	var all []*ValidationError
	all = append(all, validateSchema(suite)...)
	all = append(all, Validate(suite)...)
	return suite, all
}

// validateSchema checks the suite against the generated JSON Schema.
func validateSchema(s *Suite) []*ValidationError {
	fail := func(msg string, err error) []*ValidationError {
		return []*ValidationError{{
			Phase:    "schema",
			Message:  fmt.Sprintf("%s: %v", msg, err),
			Severity: "error",
		}}
	}

	schemaJSON, err := SuiteSchema()
	if err != nil {
		return fail("generate schema", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fail("unmarshal schema", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("suite-v0.json", schemaDoc); err != nil {
		return fail("add schema resource", err)
	}
	sch, err := c.Compile("suite-v0.json")
	if err != nil {
		return fail("compile schema", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fail("marshal suite", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail("unmarshal suite", err)
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenCauses(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "schema",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{Phase: "schema", Message: err.Error(), Severity: "error"})
		}
		return errs
	}
	return nil
}

func flattenCauses(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		flat = append(flat, flattenCauses(c)...)
	}
	return flat
}

var validActions = map[string]bool{
	ActionClick: true, ActionInput: true, ActionSet: true, ActionWait: true,
}

var validAssertions = map[string]bool{
	AssertElementText: true, AssertElementTextContains: true,
	AssertElementVisible: true, AssertElementExists: true,
	AssertElementAttribute: true, AssertElementValue: true,
	AssertElementCount: true, AssertElementCSS: true,
}

// Validate applies the domain rules to an already-decoded suite.
func Validate(s *Suite) []*ValidationError {
	var errs []*ValidationError
	add := func(path, msg, severity string) {
		errs = append(errs, &ValidationError{Phase: "semantics", Path: path, Message: msg, Severity: severity})
	}

	if s.Name == "" {
		add("name", "suite requires a name", "error")
	}
	if len(s.Tests) == 0 {
		add("tests", "suite must contain at least one test", "error")
	}

	seen := make(map[string]int)
	for i, tc := range s.Tests {
		path := fmt.Sprintf("tests[%d]", i)

		if tc.Name == "" {
			add(path+".name", "test requires a name", "error")
		} else if prev, ok := seen[tc.Name]; ok {
			add(path+".name", fmt.Sprintf("duplicate test name %q (first at tests[%d])", tc.Name, prev), "error")
		} else {
			seen[tc.Name] = i
		}

		switch tc.Type {
		case TypeInteractive:
			if len(tc.Steps) == 0 {
				add(path+".steps", fmt.Sprintf("interactive test %q has no steps and will error at runtime", tc.Name), "warning")
			}
			for j, st := range tc.Steps {
				errs = append(errs, validateStep(fmt.Sprintf("%s.steps[%d]", path, j), st)...)
			}
			if tc.Endpoint != "" {
				add(path+".endpoint", "endpoint is only meaningful on backend tests", "warning")
			}
		case TypeVisual:
			if tc.Description == "" {
				add(path+".description", fmt.Sprintf("visual test %q has no description for the judge to grade against", tc.Name), "warning")
			}
			if len(tc.Steps) > 0 {
				add(path+".steps", "steps are only meaningful on interactive tests", "warning")
			}
		case TypeBackend:
			if tc.Endpoint == "" {
				add(path+".endpoint", fmt.Sprintf("backend test %q requires an endpoint", tc.Name), "error")
			}
			if tc.Expected == nil {
				add(path+".expected", fmt.Sprintf("backend test %q requires an expected value", tc.Name), "error")
			}
			if len(tc.Steps) > 0 {
				add(path+".steps", "steps are only meaningful on interactive tests", "warning")
			}
		case "":
			add(path+".type", fmt.Sprintf("test %q requires a type (interactive, visual, or backend)", tc.Name), "error")
		default:
			add(path+".type", fmt.Sprintf("unknown test type %q: must be interactive, visual, or backend", tc.Type), "error")
		}
	}

	return errs
}

func validateStep(path string, st Step) []*ValidationError {
	var errs []*ValidationError
	add := func(p, msg string) {
		errs = append(errs, &ValidationError{Phase: "semantics", Path: p, Message: msg, Severity: "error"})
	}

	switch {
	case st.Action != "" && st.Assert != "":
		add(path, "step sets both action and assert; exactly one must be set")
		return errs
	case st.Action == "" && st.Assert == "":
		add(path, "step sets neither action nor assert; exactly one must be set")
		return errs
	}

	if st.Action != "" {
		if !validActions[st.Action] {
			add(path+".action", fmt.Sprintf("unknown action %q", st.Action))
			return errs
		}
		switch st.Action {
		case ActionWait:
			if st.Duration <= 0 {
				add(path+".duration", "wait requires a positive duration in milliseconds")
			}
		default:
			if st.Selector == "" {
				add(path+".selector", fmt.Sprintf("action %q requires a selector", st.Action))
			}
		}
		return errs
	}

	if !validAssertions[st.Assert] {
		add(path+".assert", fmt.Sprintf("unknown assertion %q", st.Assert))
		return errs
	}
	if st.Selector == "" {
		add(path+".selector", fmt.Sprintf("assertion %q requires a selector", st.Assert))
	}
	switch st.Assert {
	case AssertElementAttribute:
		if st.Attribute == "" {
			add(path+".attribute", "elementAttribute requires an attribute name")
		}
	case AssertElementCSS:
		if st.Property == "" {
			add(path+".property", "elementCSS requires a property name")
		}
	}
	if st.Assert != AssertElementExists && st.Assert != AssertElementVisible && st.Expected == nil {
		add(path+".expected", fmt.Sprintf("assertion %q requires an expected value", st.Assert))
	}
	return errs
}
