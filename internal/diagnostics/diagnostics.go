package diagnostics

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// Logical script names inside an assembled document. The user script carries
// UserScriptName so its stack frames are already student-relative; the
// injected scripts carry proctor-* names so their frames can be skipped.
const (
	UserScriptName       = "frontend.js"
	InstrumentScriptName = "proctor-instrument.js"
	BridgeScriptName     = "proctor-bridge.js"
	SaveHookScriptName   = "proctor-savehook.js"
)

// BindingName is the host function the interceptor posts reports through.
const BindingName = "__proctorReport"

//go:embed interceptor.js
var interceptorJS string

// InterceptorScript returns the capture script injected ahead of user code.
func InterceptorScript() string { return interceptorJS }

// Report is the raw payload the in-context script posts over the binding.
// It is untrusted input: DecodeReport validates the shape before anything
// downstream sees it.
type Report struct {
	Type    string   `json:"type"` // console | error | rejection | save-shortcut
	Level   string   `json:"level,omitempty"`
	Args    []string `json:"args,omitempty"`
	Message string   `json:"message,omitempty"`
	Source  string   `json:"source,omitempty"`
	Line    *int     `json:"line,omitempty"`
	Column  *int     `json:"column,omitempty"`
	Name    string   `json:"name,omitempty"`
	Stack   string   `json:"stack,omitempty"`
}

// Raw report types.
const (
	ReportConsole      = "console"
	ReportError        = "error"
	ReportRejection    = "rejection"
	ReportSaveShortcut = "save-shortcut"
)

// DecodeReport parses a binding payload, rejecting unknown shapes.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	switch r.Type {
	case ReportConsole, ReportError, ReportRejection, ReportSaveShortcut:
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown report type %q", r.Type)
	}
}

// Normalized event types.
const (
	EventConsoleLog  = "console-log"
	EventIframeError = "iframe-error"
)

// Execution phases.
const (
	PhaseLog     = "log"
	PhaseCompile = "compile"
	PhaseRuntime = "runtime"
)

// Location origins.
const (
	OriginStack = "stack"
	OriginDoc   = "doc"
)

// Event is a normalized diagnostic with student-relative coordinates.
// Line and Column are nil when no frame could be attributed to user code.
type Event struct {
	Type      string   `json:"type"`
	Level     string   `json:"level,omitempty"`
	Args      []string `json:"args,omitempty"`
	Message   string   `json:"message,omitempty"`
	Line      *int     `json:"line"`
	Column    *int     `json:"column"`
	RawLine   *int     `json:"rawLine"`
	RawColumn *int     `json:"rawColumn"`
	Phase     string   `json:"phase"`
	Origin    string   `json:"origin,omitempty"`
	Stack     string   `json:"stack,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// Summary renders the event as a one-line string for logs and CLI output.
func (e *Event) Summary() string {
	loc := UserScriptName
	if e.Line != nil {
		loc = fmt.Sprintf("%s:%d", UserScriptName, *e.Line)
		if e.Column != nil {
			loc = fmt.Sprintf("%s:%d", loc, *e.Column)
		}
	}
	if e.Type == EventConsoleLog {
		text := ""
		for i, a := range e.Args {
			if i > 0 {
				text += " "
			}
			text += a
		}
		return fmt.Sprintf("console.%s %s %s", e.Level, loc, text)
	}
	return fmt.Sprintf("%s error %s %s", e.Phase, loc, e.Message)
}
