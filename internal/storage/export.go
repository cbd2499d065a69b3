package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/proctor/internal/results"
)

// ExportMarkdown renders a run and its results as a markdown report.
func ExportMarkdown(run *Run, rs []*results.TestResult) string {
	var b strings.Builder

	title := run.SuiteName
	if title == "" {
		title = "Test Run"
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", title))
	b.WriteString(fmt.Sprintf("- **Run:** %s\n", run.ID))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", run.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", run.Status))
	b.WriteString(fmt.Sprintf("- **Passed:** %d/%d\n", run.Passed, run.Total))
	b.WriteString("\n---\n\n")

	for _, r := range rs {
		b.WriteString(fmt.Sprintf("## %s %s\n\n", statusIcon(r.Status), r.TestName))
		if r.Message != "" {
			b.WriteString(r.Message + "\n\n")
		}
		if r.IsOverridden {
			b.WriteString(fmt.Sprintf("**Overridden** (computed %s): %s\n\n", r.OriginalStatus, r.OverrideReason))
		} else if r.OverrideReason != "" {
			b.WriteString(fmt.Sprintf("**Reviewer note:** %s\n\n", r.OverrideReason))
		}
		for i, sr := range r.StepResults {
			mark := "x"
			if !sr.Success {
				mark = " "
			}
			label := sr.Action
			if label == "" {
				label = sr.Assert
			}
			b.WriteString(fmt.Sprintf("- [%s] step %d (%s)", mark, i+1, label))
			if sr.Description != "" {
				b.WriteString(" " + sr.Description)
			}
			if sr.Error != "" {
				b.WriteString(fmt.Sprintf(": %s", sr.Error))
			}
			b.WriteString("\n")
		}
		if len(r.StepResults) > 0 {
			b.WriteString("\n")
		}
		if len(r.Diagnostics) > 0 {
			b.WriteString("<details>\n<summary>Console and errors</summary>\n\n```\n")
			for i := range r.Diagnostics {
				b.WriteString(r.Diagnostics[i].Summary() + "\n")
			}
			b.WriteString("```\n</details>\n\n")
		}
	}

	return b.String()
}

func statusIcon(s results.Status) string {
	switch s {
	case results.StatusPass:
		return "✅"
	case results.StatusFail:
		return "❌"
	case results.StatusError:
		return "💥"
	default:
		return "⏭️"
	}
}

// ExportJSON renders a run and its results as formatted JSON.
func ExportJSON(run *Run, rs []*results.TestResult) ([]byte, error) {
	export := struct {
		Run     *Run                  `json:"run"`
		Results []*results.TestResult `json:"results"`
	}{
		Run:     run,
		Results: rs,
	}
	return json.MarshalIndent(export, "", "  ")
}
