package iperf

import (
	"context"
	"fmt"

	"github.com/bwprobe/bwprobe/internal/remote"
)

// Runner executes one client-side throughput test and returns its
// report. Failure is an error; the report is nil on failure.
type Runner interface {
	Test(ctx context.Context, spec Spec) (*Report, error)
}

// ExecRunner runs the iperf3 client through an executor (local shell,
// SSH, or dry-run).
type ExecRunner struct {
	exec remote.Executor
}

// NewExecRunner creates a Runner backed by the given executor.
func NewExecRunner(exec remote.Executor) *ExecRunner {
	return &ExecRunner{exec: exec}
}

// Test runs the client and decodes its JSON report. When the backing
// executor is a dry-run one, the synthetic empty output yields an
// empty report rather than an error.
func (r *ExecRunner) Test(ctx context.Context, spec Spec) (*Report, error) {
	res, err := r.exec.Run(ctx, ClientCommand(spec))
	if err != nil {
		return nil, err
	}
	if res.Stdout == "" {
		// Dry-run path: nothing executed, nothing to decode.
		return &Report{}, nil
	}
	report, perr := ParseReport([]byte(res.Stdout))
	if perr != nil {
		return nil, fmt.Errorf("test against %s:%d failed: %w", spec.Host, spec.Port, perr)
	}
	return report, nil
}

var _ Runner = (*ExecRunner)(nil)
