package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Judgment values.
const (
	JudgmentPass = "pass"
	JudgmentFail = "fail"
)

// Request is everything the judge sees for one visual test.
type Request struct {
	Screenshot  string // PNG data URL
	TestName    string
	Description string
	HTMLCode    string
}

// Verdict is a judge's decision on a rendered page.
type Verdict struct {
	Judgment    string `json:"judgment"`
	Explanation string `json:"explanation"`
}

// Passed reports whether the verdict is a pass.
func (v *Verdict) Passed() bool { return v.Judgment == JudgmentPass }

// Judge renders a verdict on a screenshot of the student's page.
type Judge interface {
	Judge(ctx context.Context, req Request) (*Verdict, error)
}

// ParseVerdict extracts a verdict from a model reply. Replies are free text
// and commonly wrap the JSON in a markdown fence or surround it with prose,
// so the parser hunts for the outermost object rather than demanding a clean
// document.
func ParseVerdict(reply string) (*Verdict, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in judge reply")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parsing judge reply: %w", err)
	}
	if err := normalize(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func normalize(v *Verdict) error {
	v.Judgment = strings.ToLower(strings.TrimSpace(v.Judgment))
	switch v.Judgment {
	case JudgmentPass, JudgmentFail:
	default:
		return fmt.Errorf("judgment %q is neither pass nor fail", v.Judgment)
	}
	if v.Explanation == "" {
		v.Explanation = "no explanation provided"
	}
	return nil
}
