package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DockerSandbox runs code in throwaway Docker containers.
type DockerSandbox struct {
	Policy Policy
}

// NewDockerSandbox creates a sandbox with the given policy.
func NewDockerSandbox(policy Policy) *DockerSandbox {
	return &DockerSandbox{Policy: policy}
}

func (d *DockerSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if !d.Policy.IsImageAllowed(opts.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", opts.Image)
	}

	tmpDir, err := os.MkdirTemp("", "proctor-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	codeFile := opts.CodeFile
	if codeFile == "" {
		codeFile = "code"
	}
	if err := os.WriteFile(filepath.Join(tmpDir, codeFile), []byte(opts.Code), 0o644); err != nil {
		return nil, fmt.Errorf("writing code file: %w", err)
	}

	runCtx := ctx
	if d.Policy.MaxTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.Policy.MaxTimeout)
		defer cancel()
	}

	args := []string{
		"run", "--rm", "-i",
		"--memory", d.Policy.MaxMemory,
		"--pids-limit", fmt.Sprintf("%d", d.Policy.MaxPids),
		"-v", tmpDir + ":/workspace:ro",
		"-w", "/workspace",
	}
	if !d.Policy.Network {
		args = append(args, "--network=none")
	}
	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("execution timed out after %s", d.Policy.MaxTimeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("running docker: %w", err)
		}
	}

	return &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}
