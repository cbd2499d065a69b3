package testcase

// Type discriminates how a test case is executed.
type Type string

const (
	TypeInteractive Type = "interactive"
	TypeVisual      Type = "visual"
	TypeBackend     Type = "backend"
)

// Action kinds.
const (
	ActionClick = "click"
	ActionInput = "input"
	ActionSet   = "set"
	ActionWait  = "wait"
)

// Assertion kinds.
const (
	AssertElementText         = "elementText"
	AssertElementTextContains = "elementTextContains"
	AssertElementVisible      = "elementVisible"
	AssertElementExists       = "elementExists"
	AssertElementAttribute    = "elementAttribute"
	AssertElementValue        = "elementValue"
	AssertElementCount        = "elementCount"
	AssertElementCSS          = "elementCSS"
)

// Step is one entry in an interactive test: either an action that drives the
// page or an assertion that checks it. Exactly one of Action/Assert is set.
type Step struct {
	Action      string `yaml:"action,omitempty" json:"action,omitempty"`
	Assert      string `yaml:"assert,omitempty" json:"assert,omitempty"`
	Selector    string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Value       string `yaml:"value,omitempty" json:"value,omitempty"`
	Text        string `yaml:"text,omitempty" json:"text,omitempty"`
	Duration    int    `yaml:"duration,omitempty" json:"duration,omitempty"`
	Attribute   string `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	Property    string `yaml:"property,omitempty" json:"property,omitempty"`
	Expected    any    `yaml:"expected,omitempty" json:"expected,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// IsAction reports whether the step drives the page rather than asserting on it.
func (s Step) IsAction() bool { return s.Action != "" }

// Kind returns the action or assertion name, whichever is set.
func (s Step) Kind() string {
	if s.Action != "" {
		return s.Action
	}
	return s.Assert
}

// Setup holds state seeded into the context before user code runs.
type Setup struct {
	LocalStorage map[string]string `yaml:"localStorage,omitempty" json:"localStorage,omitempty"`
	Cookies      map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`
	Globals      map[string]any    `yaml:"globals,omitempty" json:"globals,omitempty"`
}

// Empty reports whether there is nothing to seed.
func (s *Setup) Empty() bool {
	return s == nil || (len(s.LocalStorage) == 0 && len(s.Cookies) == 0 && len(s.Globals) == 0)
}

// TestCase is a single check against the student submission. Cases are
// immutable once loaded; the engine never writes back into them.
type TestCase struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Type        Type   `yaml:"type" json:"type"`
	Public      bool   `yaml:"public,omitempty" json:"public,omitempty"`
	Setup       *Setup `yaml:"setup,omitempty" json:"setup,omitempty"`

	// Interactive tests only.
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`

	// Backend tests only.
	Endpoint string         `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Input    map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Expected any            `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// Files names the student submission files, relative to the suite file.
type Files struct {
	HTML    string `yaml:"html,omitempty" json:"html,omitempty"`
	CSS     string `yaml:"css,omitempty" json:"css,omitempty"`
	JS      string `yaml:"js,omitempty" json:"js,omitempty"`
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`
}

// Suite is one exercise: the submission files plus the ordered test cases
// that grade it.
type Suite struct {
	Name  string     `yaml:"name" json:"name"`
	Files Files      `yaml:"files,omitempty" json:"files,omitempty"`
	Tests []TestCase `yaml:"tests" json:"tests"`

	// Resolved file contents, populated by Load. Not part of the file format.
	HTML        string `yaml:"-" json:"-"`
	CSS         string `yaml:"-" json:"-"`
	JS          string `yaml:"-" json:"-"`
	BackendCode string `yaml:"-" json:"-"`
}

// Lookup returns the test case with the given name, or nil.
func (s *Suite) Lookup(name string) *TestCase {
	for i := range s.Tests {
		if s.Tests[i].Name == name {
			return &s.Tests[i]
		}
	}
	return nil
}

// HasType reports whether any test in the suite has the given type.
func (s *Suite) HasType(t Type) bool {
	for i := range s.Tests {
		if s.Tests[i].Type == t {
			return true
		}
	}
	return false
}
