package remote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// LocalExecutor runs commands on the local node through the shell,
// with the same Result shape as the SSH path.
type LocalExecutor struct{}

// NewLocalExecutor creates a LocalExecutor.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

// Target returns the local node name.
func (e *LocalExecutor) Target() string {
	return "local"
}

// Run executes command locally via sh -c.
func (e *LocalExecutor) Run(ctx context.Context, command string) (*Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &CommandError{
				Target:   "local",
				Command:  command,
				ExitCode: res.ExitCode,
				Stderr:   res.Stderr,
			}
		}
		return nil, runErr
	}

	return res, nil
}

// Close is a no-op for local execution.
func (e *LocalExecutor) Close() error {
	return nil
}

var _ Executor = (*LocalExecutor)(nil)
