package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/michaelbrown/proctor/internal/testcase"
)

// Terminal is the state a step run halts in.
type Terminal string

const (
	AllPassed    Terminal = "all-passed"
	FailedAtStep Terminal = "failed-at-step"
	SetupError   Terminal = "setup-error"
)

// StepResult records one executed step. A failing step is the last entry;
// steps after it are never executed and never reported.
type StepResult struct {
	Success     bool   `json:"success"`
	Description string `json:"description,omitempty"`
	Action      string `json:"action,omitempty"`
	Assert      string `json:"assert,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Outcome is the verdict for one step sequence.
type Outcome struct {
	Terminal        Terminal
	FailedStepIndex int // meaningful only when Terminal is FailedAtStep
	Message         string
	StepResults     []StepResult
}

// Success reports whether every step passed.
func (o *Outcome) Success() bool { return o.Terminal == AllPassed }

// Run executes steps strictly in order against the driver, halting at the
// first failure. A missing driver or an empty sequence is a setup error, not
// a step failure.
func Run(ctx context.Context, d Driver, stepList []testcase.Step) *Outcome {
	r := runner{driver: d, sleep: sleepCtx}
	return r.run(ctx, stepList)
}

type runner struct {
	driver Driver
	sleep  func(context.Context, time.Duration) error
}

func (r *runner) run(ctx context.Context, stepList []testcase.Step) *Outcome {
	if r.driver == nil {
		return &Outcome{Terminal: SetupError, Message: "execution context unavailable"}
	}
	if len(stepList) == 0 {
		return &Outcome{Terminal: SetupError, Message: "no steps defined"}
	}

	out := &Outcome{Terminal: AllPassed, StepResults: make([]StepResult, 0, len(stepList))}
	for i, step := range stepList {
		res := StepResult{
			Description: step.Description,
			Action:      step.Action,
			Assert:      step.Assert,
		}
		if err := r.runStep(ctx, step); err != nil {
			res.Error = err.Error()
			out.StepResults = append(out.StepResults, res)
			out.Terminal = FailedAtStep
			out.FailedStepIndex = i
			out.Message = fmt.Sprintf("Step %d failed: %s", i+1, err)
			return out
		}
		res.Success = true
		out.StepResults = append(out.StepResults, res)
	}
	out.Message = "All steps passed"
	return out
}

func (r *runner) runStep(ctx context.Context, s testcase.Step) error {
	if s.IsAction() {
		return r.runAction(ctx, s)
	}
	return r.runAssert(ctx, s)
}

func (r *runner) runAction(ctx context.Context, s testcase.Step) error {
	switch s.Action {
	case testcase.ActionWait:
		if s.Duration <= 0 {
			return fmt.Errorf("wait requires a positive duration")
		}
		return r.sleep(ctx, time.Duration(s.Duration)*time.Millisecond)

	case testcase.ActionClick:
		el, err := r.find(ctx, s.Selector)
		if err != nil {
			return err
		}
		if el.Kind == KindGeneric {
			return fmt.Errorf("element %q (<%s>) is not clickable", s.Selector, el.Tag)
		}
		return r.driver.Click(ctx, s.Selector)

	case testcase.ActionInput:
		el, err := r.find(ctx, s.Selector)
		if err != nil {
			return err
		}
		if el.Kind != KindTextEntry {
			return fmt.Errorf("element %q (<%s>) does not accept text input", s.Selector, el.Tag)
		}
		return r.driver.EnterText(ctx, s.Selector, s.Value)

	case testcase.ActionSet:
		if _, err := r.find(ctx, s.Selector); err != nil {
			return err
		}
		return r.driver.SetText(ctx, s.Selector, s.Text)

	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
}

// find resolves a selector to an element, converting "no match" into the
// error every action and assertion reports for a missing element.
func (r *runner) find(ctx context.Context, selector string) (*Element, error) {
	if selector == "" {
		return nil, fmt.Errorf("selector is required")
	}
	el, err := r.driver.Find(ctx, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("element %q not found", selector)
	}
	return el, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
