package steps

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/proctor/internal/testcase"
)

type fakeElement struct {
	kind    ElementKind
	tag     string
	text    string
	value   string
	attrs   map[string]string
	css     map[string]string
	visible bool
	count   int
}

type fakeDriver struct {
	elements map[string]*fakeElement
	clicked  []string
	entered  map[string]string
	setTexts map[string]string
	onClick  func(selector string)
	err      error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		elements: map[string]*fakeElement{},
		entered:  map[string]string{},
		setTexts: map[string]string{},
	}
}

func (d *fakeDriver) lookup(selector string) (*fakeElement, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.elements[selector], nil
}

func (d *fakeDriver) Find(_ context.Context, selector string) (*Element, error) {
	el, err := d.lookup(selector)
	if err != nil || el == nil {
		return nil, err
	}
	return &Element{Kind: el.kind, Tag: el.tag}, nil
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	if d.err != nil {
		return d.err
	}
	d.clicked = append(d.clicked, selector)
	if d.onClick != nil {
		d.onClick(selector)
	}
	return nil
}

func (d *fakeDriver) EnterText(_ context.Context, selector, value string) error {
	if d.err != nil {
		return d.err
	}
	d.entered[selector] = value
	if el := d.elements[selector]; el != nil {
		el.value = value
	}
	return nil
}

func (d *fakeDriver) SetText(_ context.Context, selector, text string) error {
	if d.err != nil {
		return d.err
	}
	d.setTexts[selector] = text
	if el := d.elements[selector]; el != nil {
		el.text = text
	}
	return nil
}

func (d *fakeDriver) Text(_ context.Context, selector string) (string, error) {
	el, err := d.lookup(selector)
	if err != nil || el == nil {
		return "", err
	}
	return el.text, nil
}

func (d *fakeDriver) Value(_ context.Context, selector string) (string, error) {
	el, err := d.lookup(selector)
	if err != nil || el == nil {
		return "", err
	}
	return el.value, nil
}

func (d *fakeDriver) Attribute(_ context.Context, selector, name string) (string, bool, error) {
	el, err := d.lookup(selector)
	if err != nil || el == nil {
		return "", false, err
	}
	v, ok := el.attrs[name]
	return v, ok, nil
}

func (d *fakeDriver) CSSValue(_ context.Context, selector, property string) (string, error) {
	el, err := d.lookup(selector)
	if err != nil || el == nil {
		return "", err
	}
	return el.css[property], nil
}

func (d *fakeDriver) Visible(_ context.Context, selector string) (bool, error) {
	el, err := d.lookup(selector)
	if err != nil || el == nil {
		return false, err
	}
	return el.visible, nil
}

func (d *fakeDriver) Count(_ context.Context, selector string) (int, error) {
	el, err := d.lookup(selector)
	if err != nil || el == nil {
		return 0, err
	}
	return el.count, nil
}

func TestRunClickThenAssertText(t *testing.T) {
	d := newFakeDriver()
	d.elements["#go"] = &fakeElement{kind: KindClickable, tag: "button", text: "Go"}
	d.elements["#out"] = &fakeElement{kind: KindClickable, tag: "div"}
	d.onClick = func(selector string) {
		if selector == "#go" {
			d.elements["#out"].text = "clicked"
		}
	}

	out := Run(context.Background(), d, []testcase.Step{
		{Action: testcase.ActionClick, Selector: "#go"},
		{Assert: testcase.AssertElementText, Selector: "#out", Expected: "clicked"},
	})

	if !out.Success() {
		t.Fatalf("run failed: %s", out.Message)
	}
	if len(out.StepResults) != 2 {
		t.Errorf("StepResults = %d entries, want 2", len(out.StepResults))
	}
	if out.Message != "All steps passed" {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestRunTruncatesAtFirstFailure(t *testing.T) {
	d := newFakeDriver()
	d.elements["#a"] = &fakeElement{kind: KindClickable, tag: "button"}
	d.elements["#b"] = &fakeElement{kind: KindClickable, tag: "div", text: "ready"}

	out := Run(context.Background(), d, []testcase.Step{
		{Action: testcase.ActionClick, Selector: "#a"},
		{Assert: testcase.AssertElementExists, Selector: "#b"},
		{Assert: testcase.AssertElementText, Selector: "#b", Expected: "done"},
		{Action: testcase.ActionClick, Selector: "#a"},
		{Assert: testcase.AssertElementText, Selector: "#b", Expected: "done"},
	})

	if out.Terminal != FailedAtStep {
		t.Fatalf("Terminal = %q, want %q", out.Terminal, FailedAtStep)
	}
	if out.FailedStepIndex != 2 {
		t.Errorf("FailedStepIndex = %d, want 2", out.FailedStepIndex)
	}
	if len(out.StepResults) != 3 {
		t.Fatalf("StepResults = %d entries, want exactly 3", len(out.StepResults))
	}
	last := out.StepResults[2]
	if last.Success || last.Error == "" {
		t.Errorf("failing step result = %+v", last)
	}
	if !strings.HasPrefix(out.Message, "Step 3 failed:") {
		t.Errorf("Message = %q, want step number 3", out.Message)
	}
	// The click after the failing assertion must never have run.
	if len(d.clicked) != 1 {
		t.Errorf("clicks = %v, want exactly one", d.clicked)
	}
}

func TestSetupErrors(t *testing.T) {
	out := Run(context.Background(), nil, []testcase.Step{{Action: testcase.ActionClick, Selector: "#a"}})
	if out.Terminal != SetupError || out.Message != "execution context unavailable" {
		t.Errorf("nil driver: Terminal = %q, Message = %q", out.Terminal, out.Message)
	}

	out = Run(context.Background(), newFakeDriver(), nil)
	if out.Terminal != SetupError || out.Message != "no steps defined" {
		t.Errorf("no steps: Terminal = %q, Message = %q", out.Terminal, out.Message)
	}
	if len(out.StepResults) != 0 {
		t.Errorf("setup error should produce no step results, got %d", len(out.StepResults))
	}
}

func TestTextAssertions(t *testing.T) {
	d := newFakeDriver()
	d.elements["#status"] = &fakeElement{kind: KindClickable, tag: "div", text: "You Win!"}
	d.elements["#padded"] = &fakeElement{kind: KindClickable, tag: "div", text: "  clicked \n"}

	tests := []struct {
		name   string
		step   testcase.Step
		wantOK bool
	}{
		{
			name:   "contains is case-insensitive",
			step:   testcase.Step{Assert: testcase.AssertElementTextContains, Selector: "#status", Expected: "you win"},
			wantOK: true,
		},
		{
			name:   "exact match fails on missing punctuation",
			step:   testcase.Step{Assert: testcase.AssertElementText, Selector: "#status", Expected: "You Win"},
			wantOK: false,
		},
		{
			name:   "exact match passes on full text",
			step:   testcase.Step{Assert: testcase.AssertElementText, Selector: "#status", Expected: "You Win!"},
			wantOK: true,
		},
		{
			name:   "exact match trims both sides",
			step:   testcase.Step{Assert: testcase.AssertElementText, Selector: "#padded", Expected: "clicked"},
			wantOK: true,
		},
		{
			name:   "contains does not trim away a real mismatch",
			step:   testcase.Step{Assert: testcase.AssertElementTextContains, Selector: "#status", Expected: "you lose"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Run(context.Background(), d, []testcase.Step{tt.step})
			if out.Success() != tt.wantOK {
				t.Errorf("success = %v, want %v (message %q)", out.Success(), tt.wantOK, out.Message)
			}
		})
	}
}

func TestElementCount(t *testing.T) {
	d := newFakeDriver()
	d.elements[".board-cell"] = &fakeElement{kind: KindClickable, tag: "div", count: 9}

	out := Run(context.Background(), d, []testcase.Step{
		{Assert: testcase.AssertElementCount, Selector: ".board-cell", Expected: 9},
	})
	if !out.Success() {
		t.Errorf("3x3 grid count failed: %s", out.Message)
	}

	out = Run(context.Background(), d, []testcase.Step{
		{Assert: testcase.AssertElementCount, Selector: ".board-cell", Expected: 8},
	})
	if out.Success() {
		t.Fatal("count mismatch should fail")
	}
	msg := out.StepResults[0].Error
	for _, want := range []string{".board-cell", "8", "9"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestActionCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		element *fakeElement
		step    testcase.Step
		wantErr string
	}{
		{
			name:    "input on a div is rejected",
			element: &fakeElement{kind: KindClickable, tag: "div"},
			step:    testcase.Step{Action: testcase.ActionInput, Selector: "#el", Value: "x"},
			wantErr: "does not accept text input",
		},
		{
			name:    "click on an svg node is rejected",
			element: &fakeElement{kind: KindGeneric, tag: "svg"},
			step:    testcase.Step{Action: testcase.ActionClick, Selector: "#el"},
			wantErr: "is not clickable",
		},
		{
			name:    "click on a missing element",
			element: nil,
			step:    testcase.Step{Action: testcase.ActionClick, Selector: "#el"},
			wantErr: `element "#el" not found`,
		},
		{
			name:    "input on a text field succeeds",
			element: &fakeElement{kind: KindTextEntry, tag: "input"},
			step:    testcase.Step{Action: testcase.ActionInput, Selector: "#el", Value: "hello"},
		},
		{
			name:    "click on a plain div succeeds",
			element: &fakeElement{kind: KindClickable, tag: "div"},
			step:    testcase.Step{Action: testcase.ActionClick, Selector: "#el"},
		},
		{
			name:    "set works on any element",
			element: &fakeElement{kind: KindGeneric, tag: "svg"},
			step:    testcase.Step{Action: testcase.ActionSet, Selector: "#el", Text: "forced"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			if tt.element != nil {
				d.elements["#el"] = tt.element
			}
			out := Run(context.Background(), d, []testcase.Step{tt.step})
			if tt.wantErr == "" {
				if !out.Success() {
					t.Fatalf("run failed: %s", out.Message)
				}
				return
			}
			if out.Success() {
				t.Fatal("run should have failed")
			}
			if got := out.StepResults[0].Error; !strings.Contains(got, tt.wantErr) {
				t.Errorf("error %q missing %q", got, tt.wantErr)
			}
		})
	}
}

func TestInputRecordsValue(t *testing.T) {
	d := newFakeDriver()
	d.elements["#name"] = &fakeElement{kind: KindTextEntry, tag: "input"}

	out := Run(context.Background(), d, []testcase.Step{
		{Action: testcase.ActionInput, Selector: "#name", Value: "bo"},
		{Assert: testcase.AssertElementValue, Selector: "#name", Expected: "bo"},
	})
	if !out.Success() {
		t.Fatalf("run failed: %s", out.Message)
	}
	if d.entered["#name"] != "bo" {
		t.Errorf("entered = %q", d.entered["#name"])
	}
}

func TestWait(t *testing.T) {
	d := newFakeDriver()
	var slept time.Duration
	r := runner{driver: d, sleep: func(_ context.Context, dur time.Duration) error {
		slept = dur
		return nil
	}}

	out := r.run(context.Background(), []testcase.Step{
		{Action: testcase.ActionWait, Duration: 250},
	})
	if !out.Success() {
		t.Fatalf("wait failed: %s", out.Message)
	}
	if slept != 250*time.Millisecond {
		t.Errorf("slept = %v, want 250ms", slept)
	}

	out = r.run(context.Background(), []testcase.Step{
		{Action: testcase.ActionWait},
	})
	if out.Success() || !strings.Contains(out.Message, "positive duration") {
		t.Errorf("zero-duration wait: %q", out.Message)
	}
}

func TestWaitStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Run(ctx, newFakeDriver(), []testcase.Step{
		{Action: testcase.ActionWait, Duration: 10_000},
	})
	if out.Terminal != FailedAtStep {
		t.Fatalf("Terminal = %q", out.Terminal)
	}
	if !strings.Contains(out.Message, "context canceled") {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestAssertionMessages(t *testing.T) {
	d := newFakeDriver()
	d.elements["#box"] = &fakeElement{
		kind:    KindClickable,
		tag:     "div",
		text:    "ready",
		attrs:   map[string]string{"data-state": "open"},
		css:     map[string]string{"color": "rgb(0, 128, 0)"},
		visible: false,
	}

	tests := []struct {
		name string
		step testcase.Step
		want []string
	}{
		{
			name: "attribute mismatch names attribute and both values",
			step: testcase.Step{Assert: testcase.AssertElementAttribute, Selector: "#box", Attribute: "data-state", Expected: "closed"},
			want: []string{"#box", "data-state", "closed", "open"},
		},
		{
			name: "missing attribute",
			step: testcase.Step{Assert: testcase.AssertElementAttribute, Selector: "#box", Attribute: "role", Expected: "grid"},
			want: []string{"#box", "role", "missing"},
		},
		{
			name: "css mismatch names property and both values",
			step: testcase.Step{Assert: testcase.AssertElementCSS, Selector: "#box", Property: "color", Expected: "rgb(255, 0, 0)"},
			want: []string{"#box", "color", "rgb(255, 0, 0)", "rgb(0, 128, 0)"},
		},
		{
			name: "not visible",
			step: testcase.Step{Assert: testcase.AssertElementVisible, Selector: "#box"},
			want: []string{"#box", "not visible"},
		},
		{
			name: "text mismatch carries expected and actual",
			step: testcase.Step{Assert: testcase.AssertElementText, Selector: "#box", Expected: "done"},
			want: []string{"#box", "done", "ready"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Run(context.Background(), d, []testcase.Step{tt.step})
			if out.Success() {
				t.Fatal("assertion should have failed")
			}
			msg := out.StepResults[0].Error
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("message %q missing %q", msg, want)
				}
			}
		})
	}
}

func TestCSSComparisonIsCaseInsensitive(t *testing.T) {
	d := newFakeDriver()
	d.elements["#box"] = &fakeElement{kind: KindClickable, tag: "div", css: map[string]string{"display": "FLEX"}}

	out := Run(context.Background(), d, []testcase.Step{
		{Assert: testcase.AssertElementCSS, Selector: "#box", Property: "display", Expected: "flex"},
	})
	if !out.Success() {
		t.Errorf("css keyword compare failed: %s", out.Message)
	}
}

func TestExpectedValueCoercions(t *testing.T) {
	d := newFakeDriver()
	d.elements[".cell"] = &fakeElement{kind: KindClickable, tag: "div", count: 9, text: "5"}

	tests := []struct {
		name   string
		step   testcase.Step
		wantOK bool
	}{
		{
			name:   "count accepts json float",
			step:   testcase.Step{Assert: testcase.AssertElementCount, Selector: ".cell", Expected: float64(9)},
			wantOK: true,
		},
		{
			name:   "count accepts numeric string",
			step:   testcase.Step{Assert: testcase.AssertElementCount, Selector: ".cell", Expected: "9"},
			wantOK: true,
		},
		{
			name:   "count rejects a non-number",
			step:   testcase.Step{Assert: testcase.AssertElementCount, Selector: ".cell", Expected: "nine"},
			wantOK: false,
		},
		{
			name:   "text accepts a numeric expected value",
			step:   testcase.Step{Assert: testcase.AssertElementText, Selector: ".cell", Expected: float64(5)},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Run(context.Background(), d, []testcase.Step{tt.step})
			if out.Success() != tt.wantOK {
				t.Errorf("success = %v, want %v (message %q)", out.Success(), tt.wantOK, out.Message)
			}
		})
	}
}

func TestDriverErrorSurfacesAsStepFailure(t *testing.T) {
	d := newFakeDriver()
	d.err = errors.New("target crashed")

	out := Run(context.Background(), d, []testcase.Step{
		{Assert: testcase.AssertElementExists, Selector: "#go"},
	})
	if out.Terminal != FailedAtStep {
		t.Fatalf("Terminal = %q", out.Terminal)
	}
	if !strings.Contains(out.Message, "target crashed") {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestUnknownStepKinds(t *testing.T) {
	d := newFakeDriver()
	d.elements["#a"] = &fakeElement{kind: KindClickable, tag: "div"}

	out := Run(context.Background(), d, []testcase.Step{{Action: "hover", Selector: "#a"}})
	if out.Success() || !strings.Contains(out.Message, `unknown action "hover"`) {
		t.Errorf("Message = %q", out.Message)
	}

	out = Run(context.Background(), d, []testcase.Step{{Assert: "glows", Selector: "#a"}})
	if out.Success() || !strings.Contains(out.Message, `unknown assertion "glows"`) {
		t.Errorf("Message = %q", out.Message)
	}
}
