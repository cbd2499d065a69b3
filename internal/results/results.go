package results

import (
	"fmt"
	"strings"

	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/steps"
)

// Status is the verdict attached to one test result.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
	StatusSkip  Status = "skip"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusError, StatusSkip:
		return true
	}
	return false
}

// MinOverrideReason is the shortest accepted override justification, in
// characters after trimming.
const MinOverrideReason = 10

// TestResult is the recorded outcome of one test in one run. A reviewer may
// override the computed status; OriginalStatus keeps the computed verdict so
// the override stays reversible.
type TestResult struct {
	TestName       string              `json:"testName"`
	Status         Status              `json:"status"`
	Message        string              `json:"message,omitempty"`
	StepResults    []steps.StepResult  `json:"stepResults,omitempty"`
	Screenshot     string              `json:"screenshot,omitempty"`
	Diagnostics    []diagnostics.Event `json:"diagnostics,omitempty"`
	DurationMs     int64               `json:"durationMs,omitempty"`
	OriginalStatus Status              `json:"originalStatus,omitempty"`
	IsOverridden   bool                `json:"isOverridden,omitempty"`
	OverrideReason string              `json:"overrideReason,omitempty"`
}

// Override replaces the computed status with a reviewer's verdict. The first
// override captures the computed status; stacked overrides keep it.
func (r *TestResult) Override(status Status, reason string) error {
	if status != StatusPass && status != StatusFail {
		return fmt.Errorf("override status must be pass or fail, got %q", status)
	}
	if len(strings.TrimSpace(reason)) < MinOverrideReason {
		return fmt.Errorf("override reason must be at least %d characters", MinOverrideReason)
	}
	if !r.IsOverridden {
		r.OriginalStatus = r.Status
	}
	r.Status = status
	r.IsOverridden = true
	r.OverrideReason = reason
	return nil
}

// Revert restores the computed status. The reason text is kept so it can
// still be shown after the revert.
func (r *TestResult) Revert() error {
	if !r.IsOverridden {
		return fmt.Errorf("result for %q is not overridden", r.TestName)
	}
	r.Status = r.OriginalStatus
	r.IsOverridden = false
	return nil
}

// AllPassed reports whether every executed result passed. Skipped tests do
// not count either way; a run that executed nothing did not pass.
func AllPassed(rs []*TestResult) bool {
	executed := 0
	for _, r := range rs {
		if r.Status == StatusSkip {
			continue
		}
		executed++
		if r.Status != StatusPass {
			return false
		}
	}
	return executed > 0
}

// Summary counts results by status.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
}

func Summarize(rs []*TestResult) Summary {
	s := Summary{Total: len(rs)}
	for _, r := range rs {
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusError:
			s.Errored++
		case StatusSkip:
			s.Skipped++
		}
	}
	return s
}
