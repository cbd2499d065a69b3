package results

import (
	"strings"
	"testing"
)

func TestOverrideRevertRoundTrip(t *testing.T) {
	r := &TestResult{TestName: "board renders", Status: StatusFail, Message: "Step 2 failed"}

	if err := r.Override(StatusPass, "manually verified correct"); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if r.Status != StatusPass || !r.IsOverridden {
		t.Errorf("after override: status=%q isOverridden=%v", r.Status, r.IsOverridden)
	}
	if r.OriginalStatus != StatusFail {
		t.Errorf("OriginalStatus = %q, want fail", r.OriginalStatus)
	}

	if err := r.Revert(); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if r.Status != StatusFail || r.IsOverridden {
		t.Errorf("after revert: status=%q isOverridden=%v", r.Status, r.IsOverridden)
	}
	if r.OverrideReason != "manually verified correct" {
		t.Errorf("reason lost on revert: %q", r.OverrideReason)
	}
}

func TestOverrideValidation(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		reason  string
		wantSub string
	}{
		{"short reason", StatusPass, "looks ok", "at least 10 characters"},
		{"whitespace padding does not count", StatusPass, "   ok    \t\n ", "at least 10 characters"},
		{"skip is not an override target", StatusSkip, "manually verified correct", "must be pass or fail"},
		{"error is not an override target", StatusError, "manually verified correct", "must be pass or fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &TestResult{TestName: "t", Status: StatusFail}
			err := r.Override(tt.status, tt.reason)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want substring %q", err, tt.wantSub)
			}
			if r.Status != StatusFail || r.IsOverridden {
				t.Errorf("rejected override mutated result: %+v", r)
			}
		})
	}
}

func TestStackedOverridesKeepFirstOriginal(t *testing.T) {
	r := &TestResult{TestName: "t", Status: StatusError}

	if err := r.Override(StatusPass, "manually verified correct"); err != nil {
		t.Fatal(err)
	}
	if err := r.Override(StatusFail, "second look showed a defect"); err != nil {
		t.Fatal(err)
	}
	if r.OriginalStatus != StatusError {
		t.Errorf("OriginalStatus = %q, want the first computed status", r.OriginalStatus)
	}
	if err := r.Revert(); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusError {
		t.Errorf("revert restored %q, want error", r.Status)
	}
}

func TestRevertWithoutOverride(t *testing.T) {
	r := &TestResult{TestName: "t", Status: StatusPass}
	if err := r.Revert(); err == nil {
		t.Error("revert on a non-overridden result should fail")
	}
}

func TestAllPassed(t *testing.T) {
	tests := []struct {
		name string
		rs   []*TestResult
		want bool
	}{
		{"all pass", []*TestResult{{Status: StatusPass}, {Status: StatusPass}}, true},
		{"one failure", []*TestResult{{Status: StatusPass}, {Status: StatusFail}}, false},
		{"error counts against", []*TestResult{{Status: StatusPass}, {Status: StatusError}}, false},
		{"skips ignored", []*TestResult{{Status: StatusSkip}, {Status: StatusPass}}, true},
		{"nothing executed", []*TestResult{{Status: StatusSkip}}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllPassed(tt.rs); got != tt.want {
				t.Errorf("AllPassed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]*TestResult{
		{Status: StatusPass}, {Status: StatusPass},
		{Status: StatusFail},
		{Status: StatusError},
		{Status: StatusSkip},
	})
	want := Summary{Total: 5, Passed: 2, Failed: 1, Errored: 1, Skipped: 1}
	if s != want {
		t.Errorf("Summarize = %+v, want %+v", s, want)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPass, StatusFail, StatusError, StatusSkip} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("maybe").Valid() {
		t.Error(`"maybe" should not be valid`)
	}
}
