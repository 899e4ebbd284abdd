// Package runner exercises every configured remote node with one
// throughput test per direction.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/iperf"
	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/retry"
	"github.com/bwprobe/bwprobe/internal/runlog"
)

// Outcome records one directional test result.
type Outcome struct {
	Remote    string
	Direction string // "local->remote" or "remote->local"
	Passed    bool
	Detail    string
}

// Runner walks the remote list sequentially, never overlapping tests
// so two probes cannot compete for the same link.
type Runner struct {
	console *output.Logger
	logs    *runlog.Logs
	engine  *retry.Engine

	localRunner   iperf.Runner            // iperf3 client run locally
	remoteRunners map[string]iperf.Runner // iperf3 client run on a remote over SSH

	localAddress string
	serverPort   int
	duration     time.Duration
}

// Options configures a Runner.
type Options struct {
	Console       *output.Logger
	Logs          *runlog.Logs
	Engine        *retry.Engine
	LocalRunner   iperf.Runner
	RemoteRunners map[string]iperf.Runner
	LocalAddress  string
	ServerPort    int
	Duration      time.Duration
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Console == nil {
		opts.Console = output.DefaultLogger
	}
	return &Runner{
		console:       opts.Console,
		logs:          opts.Logs,
		engine:        opts.Engine,
		localRunner:   opts.LocalRunner,
		remoteRunners: opts.RemoteRunners,
		localAddress:  opts.LocalAddress,
		serverPort:    opts.ServerPort,
		duration:      opts.Duration,
	}
}

// Run executes, for every remote R in order, a local->R test and an
// R->local test. A directional failure is recorded and the loop
// continues; only an exhausted-retry failure from the engine aborts
// the run.
func (r *Runner) Run(ctx context.Context, remotes []config.RemoteNode) ([]Outcome, error) {
	var outcomes []Outcome

	for _, node := range remotes {
		out, err := r.direction(ctx, node.Address, "local->remote", r.localRunner, iperf.Spec{
			Host:     node.Address,
			Port:     r.serverPort,
			Duration: r.duration,
		})
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, err
		}

		remoteRunner, ok := r.remoteRunners[node.Address]
		if !ok {
			return outcomes, &retry.FatalError{
				Op:  fmt.Sprintf("throughput %s -> local", node.Address),
				Err: fmt.Errorf("no runner for remote %s", node.Address),
			}
		}
		out, err = r.direction(ctx, node.Address, "remote->local", remoteRunner, iperf.Spec{
			Host:     r.localAddress,
			Port:     r.serverPort,
			Duration: r.duration,
		})
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, err
		}
	}

	return outcomes, nil
}

// direction runs a single directional test through the retry engine.
// The retry action is the literal re-invocation of the same test.
func (r *Runner) direction(ctx context.Context, remote, label string, runner iperf.Runner, spec iperf.Spec) (Outcome, error) {
	name := fmt.Sprintf("throughput %s (%s)", remote, label)

	var report *iperf.Report
	test := func(ctx context.Context) error {
		var err error
		report, err = runner.Test(ctx, spec)
		return err
	}

	err := r.engine.Do(ctx, &retry.Operation{
		Name:    name,
		Command: iperf.ClientCommand(spec),
		Run:     test,
		Retry:   test,
	})

	out := Outcome{Remote: remote, Direction: label}
	if err != nil {
		out.Detail = err.Error()
		r.console.Result(false, "%s", name)
		r.logs.Failure("pairwise test failed", "remote", remote, "direction", label, "error", err.Error())
		// Engine errors are always fatal at the top level.
		return out, err
	}

	out.Passed = true
	if report != nil {
		out.Detail = report.Summary()
	}
	r.console.Result(true, "%s: %s", name, out.Detail)
	r.logs.Event("pairwise test passed", "remote", remote, "direction", label, "report", out.Detail)
	return out, nil
}
