package assemble

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/proctor/internal/bridge"
	"github.com/michaelbrown/proctor/internal/diagnostics"
	"github.com/michaelbrown/proctor/internal/testcase"
)

//go:embed savehook.js
var saveHookJS string

// Input carries the student submission plus the environment the document is
// assembled for. BackendPort is the loopback port serving the bridge
// endpoint; zero means no backend is connected for this run.
type Input struct {
	HTML        string
	CSS         string
	JS          string
	BackendPort int
	BackendCode string
	Setup       *testcase.Setup
}

// Document is an assembled page plus the line bookkeeping needed to map
// document coordinates back to the student's own source.
type Document struct {
	HTML string

	// UserScriptStartLine is the number of document lines above the line the
	// user script tag opens on. A raw document line L maps back to student
	// line max(1, L-UserScriptStartLine).
	UserScriptStartLine int
}

// Assemble builds the executable document: base HTML (the student's own, or a
// minimal skeleton around their fragment), CSS inlined into the head, then
// the instrumentation script, the user script, the backend call shim, and the
// save-shortcut hook injected at the end of the body, in that order. Only the
// instrumentation runs before user code; everything injected after the user
// script cannot shift its start line.
func Assemble(in Input) (*Document, error) {
	doc := baseDocument(in.HTML)
	doc = insertStyle(doc, in.CSS)

	seed, err := setupSeed(in.Setup)
	if err != nil {
		return nil, err
	}
	instr := seed + scriptTag(diagnostics.InterceptorScript(), diagnostics.InstrumentScriptName)
	user := scriptTag(in.JS, diagnostics.UserScriptName)
	shim := scriptTag(bridge.ShimScript(in.BackendPort, in.BackendCode), diagnostics.BridgeScriptName)
	save := scriptTag(saveHookJS, diagnostics.SaveHookScriptName)

	at := scriptInsertionPoint(doc)
	userTagAt := at + len(instr)
	doc = doc[:at] + instr + user + shim + save + doc[at:]

	return &Document{
		HTML:                doc,
		UserScriptStartLine: strings.Count(doc[:userTagAt], "\n"),
	}, nil
}

// scriptTag wraps js in an inline script tagged with a sourceURL name. The
// first line of js shares the opening tag's line, so script line 1 is the tag
// line itself; UserScriptStartLine depends on this.
func scriptTag(js, name string) string {
	return "<script>" + js + "\n//# sourceURL=" + name + "\n</script>\n"
}

// setupSeed emits the state seeds the instrumentation script applies before
// user code runs. json.Marshal escapes newlines and angle brackets, so the
// seed always occupies a single document line and cannot close its own tag.
func setupSeed(s *testcase.Setup) (string, error) {
	if s.Empty() {
		return "", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding setup seed: %w", err)
	}
	return "<script>window.__proctorSetup=" + string(data) + ";</script>\n", nil
}

func baseDocument(html string) string {
	if indexFold(html, "<html") >= 0 {
		return html
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n</head>\n<body>\n")
	b.WriteString(html)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

func insertStyle(doc, css string) string {
	if strings.TrimSpace(css) == "" {
		return doc
	}
	style := "<style>\n" + css + "\n</style>\n"
	if i := lastIndexFold(doc, "</head>"); i >= 0 {
		return doc[:i] + style + doc[i:]
	}
	if i := indexFold(doc, "<body"); i >= 0 {
		return doc[:i] + style + doc[i:]
	}
	return style + doc
}

func scriptInsertionPoint(doc string) int {
	if i := lastIndexFold(doc, "</body>"); i >= 0 {
		return i
	}
	if i := lastIndexFold(doc, "</html>"); i >= 0 {
		return i
	}
	return len(doc)
}

// indexFold and lastIndexFold match sub ignoring case without lowercasing the
// whole document, so byte offsets stay valid in the original string.
func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func lastIndexFold(s, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
