package sandbox

import "context"

// ExecOpts describes one sandboxed program run.
type ExecOpts struct {
	Image    string // Docker image (e.g. "python:3.12-slim")
	Command  []string
	Code     string // Program source, mounted read-only into /workspace
	CodeFile string // Filename for Code inside /workspace (default "code")
	Stdin    string // Piped to the process
}

// ExecResult is the output of a sandboxed run.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox runs untrusted code in an isolated environment.
type Sandbox interface {
	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
}
