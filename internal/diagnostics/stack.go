package diagnostics

import (
	"regexp"
	"strconv"
	"strings"
)

// Frame is one parsed entry of a V8 stack trace.
type Frame struct {
	Func   string
	File   string
	Line   int
	Column int
}

// Matches both "at fn (file:line:col)" and "at file:line:col". The file part
// is greedy so URLs with embedded colons parse correctly.
var frameRe = regexp.MustCompile(`^\s*at\s+(?:(.*?)\s+\()?(.*):(\d+):(\d+)\)?\s*$`)

// ParseStack extracts frames from a V8-format stack trace. Unparseable lines
// (including the leading "Error" line) are dropped.
func ParseStack(stack string) []Frame {
	var frames []Frame
	for _, line := range strings.Split(stack, "\n") {
		m := frameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ln, err1 := strconv.Atoi(m[3])
		col, err2 := strconv.Atoi(m[4])
		if err1 != nil || err2 != nil {
			continue
		}
		frames = append(frames, Frame{Func: m[1], File: m[2], Line: ln, Column: col})
	}
	return frames
}

type fileClass int

const (
	fileUnknown fileClass = iota
	fileUser              // the logical user-script name; coordinates already student-relative
	fileDoc               // a document URL; coordinates are raw document lines
	fileInternal          // one of our injected scripts
)

func classifyFile(file string) fileClass {
	switch {
	case file == UserScriptName || strings.HasSuffix(file, "/"+UserScriptName):
		return fileUser
	case file == InstrumentScriptName || file == BridgeScriptName || file == SaveHookScriptName:
		return fileInternal
	case strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") || strings.HasPrefix(file, "file://"):
		return fileDoc
	default:
		return fileUnknown
	}
}

func internalFrame(f Frame) bool {
	return classifyFile(f.File) == fileInternal || strings.Contains(f.Func, "__proctor")
}
