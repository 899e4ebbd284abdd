package remote

import (
	"context"

	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/runlog"
)

// DryRunExecutor wraps another executor's identity and, instead of
// executing, logs the command it would run and reports synthetic
// success.
type DryRunExecutor struct {
	target  string
	console *output.Logger
	logs    *runlog.Logs
}

// NewDryRunExecutor creates a dry-run executor for the named target.
func NewDryRunExecutor(target string, console *output.Logger, logs *runlog.Logs) *DryRunExecutor {
	if console == nil {
		console = output.DefaultLogger
	}
	return &DryRunExecutor{target: target, console: console, logs: logs}
}

// Target returns the wrapped node name.
func (e *DryRunExecutor) Target() string {
	return e.target
}

// Run logs the command without executing it.
func (e *DryRunExecutor) Run(ctx context.Context, command string) (*Result, error) {
	e.console.DryRun("would execute on %s: %s", e.target, command)
	e.logs.Event("dry-run: would execute", "target", e.target, "command", command)
	return &Result{ExitCode: 0}, nil
}

// Close is a no-op.
func (e *DryRunExecutor) Close() error {
	return nil
}

var _ Executor = (*DryRunExecutor)(nil)
