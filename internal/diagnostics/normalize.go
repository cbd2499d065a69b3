package diagnostics

// Normalize converts a raw report into a student-facing event, remapping
// document coordinates into user-script lines using the assembled document's
// recorded offset. Returns nil for report types that are not diagnostics
// (save-shortcut).
func Normalize(r *Report, userScriptStartLine int) *Event {
	switch r.Type {
	case ReportConsole:
		ev := &Event{
			Type:  EventConsoleLog,
			Level: r.Level,
			Args:  r.Args,
			Phase: PhaseLog,
			Stack: r.Stack,
		}
		ev.locateFromStack(r.Stack, userScriptStartLine)
		return ev

	case ReportError:
		ev := &Event{
			Type:    EventIframeError,
			Level:   "error",
			Message: r.Message,
			Name:    r.Name,
			Phase:   PhaseRuntime,
			Stack:   r.Stack,
		}
		// A compile-time failure never produced an error object with a stack;
		// its coordinates come straight off the error event.
		if r.Stack == "" {
			ev.Phase = PhaseCompile
		}
		if !ev.locateFromSource(r.Source, r.Line, r.Column, userScriptStartLine) {
			ev.locateFromStack(r.Stack, userScriptStartLine)
		}
		return ev

	case ReportRejection:
		ev := &Event{
			Type:    EventIframeError,
			Level:   "error",
			Message: r.Message,
			Name:    r.Name,
			Phase:   PhaseRuntime,
			Stack:   r.Stack,
		}
		ev.locateFromStack(r.Stack, userScriptStartLine)
		return ev

	default:
		return nil
	}
}

// locateFromSource attributes coordinates reported directly by an error
// event. Reports whether a usable location was found.
func (ev *Event) locateFromSource(source string, line, column *int, offset int) bool {
	if source == "" || line == nil {
		return false
	}
	switch classifyFile(source) {
	case fileUser:
		ev.setLocation(*line, column, *line, column, OriginStack)
		return true
	case fileDoc:
		ev.setLocation(remap(*line, offset), column, *line, column, OriginDoc)
		return true
	default:
		return false
	}
}

// locateFromStack walks the parsed frames, skipping interceptor and other
// injected-script frames, and attributes the first frame that belongs to
// user code. Frames that cannot be classified leave the location nil.
func (ev *Event) locateFromStack(stack string, offset int) {
	for _, f := range ParseStack(stack) {
		if internalFrame(f) {
			continue
		}
		col := f.Column
		switch classifyFile(f.File) {
		case fileUser:
			ev.setLocation(f.Line, &col, f.Line, &col, OriginStack)
			return
		case fileDoc:
			ev.setLocation(remap(f.Line, offset), &col, f.Line, &col, OriginDoc)
			return
		default:
			// Anonymous or eval frames say nothing about user code; keep looking.
			continue
		}
	}
}

func (ev *Event) setLocation(line int, column *int, rawLine int, rawColumn *int, origin string) {
	ev.Line = &line
	ev.RawLine = &rawLine
	if column != nil {
		c := *column
		ev.Column = &c
	}
	if rawColumn != nil {
		c := *rawColumn
		ev.RawColumn = &c
	}
	ev.Origin = origin
}

func remap(docLine, offset int) int {
	student := docLine - offset
	if student < 1 {
		return 1
	}
	return student
}
