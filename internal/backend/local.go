package backend

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/proctor/internal/sandbox"
)

//go:embed runner.py
var runnerPy string

// LocalExecutor runs the student's backend code in a Docker sandbox instead
// of calling out to a remote service. The embedded runner loads the code,
// invokes the named endpoint function with the args, and prints a single
// JSON line with the result or error.
type LocalExecutor struct {
	sb    sandbox.Sandbox
	image string
}

// NewLocalExecutor creates an executor backed by the given sandbox.
func NewLocalExecutor(sb sandbox.Sandbox, image string) *LocalExecutor {
	if image == "" {
		image = "python:3.12-slim"
	}
	return &LocalExecutor{sb: sb, image: image}
}

func (e *LocalExecutor) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding execution payload: %w", err)
	}

	res, err := e.sb.Exec(ctx, sandbox.ExecOpts{
		Image:    e.image,
		Command:  []string{"python", "/workspace/runner.py"},
		Code:     runnerPy,
		CodeFile: "runner.py",
		Stdin:    string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("sandboxed execution: %w", err)
	}

	// The runner prints exactly one JSON object; anything else on stdout is
	// the student's own printing. Scan from the end for the result line.
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var out ExecuteResponse
		if err := json.Unmarshal([]byte(line), &out); err == nil {
			return &out, nil
		}
	}

	return nil, fmt.Errorf("execution produced no result (exit %d): %s", res.ExitCode, tail(res.Stderr, 300))
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
