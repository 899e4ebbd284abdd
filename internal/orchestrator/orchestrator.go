// Package orchestrator drives a full bwprobe run: startup validation,
// server bring-up, pairwise tests, external cascade, teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/bwprobe/bwprobe/internal/config"
	"github.com/bwprobe/bwprobe/internal/discovery"
	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/retry"
	"github.com/bwprobe/bwprobe/internal/runlog"
	"github.com/bwprobe/bwprobe/internal/runner"
	"github.com/bwprobe/bwprobe/internal/server"
)

// ErrInterrupted is returned when a termination signal aborts the run
// before completion. Cleanup has already run by the time it surfaces.
var ErrInterrupted = errors.New("run interrupted")

// serverManager is the slice of server.Manager the orchestrator uses.
type serverManager interface {
	Start(ctx context.Context, node string) (*server.Handle, error)
	Stop(ctx context.Context, h *server.Handle) error
	StopAll(ctx context.Context)
	Handles() []*server.Handle
}

// pairwiseRunner runs the internal remote tests.
type pairwiseRunner interface {
	Run(ctx context.Context, remotes []config.RemoteNode) ([]runner.Outcome, error)
}

// cascadeRunner runs the external discovery cascade.
type cascadeRunner interface {
	Run(ctx context.Context) ([]discovery.AttemptResult, error)
}

// Orchestrator owns the single control loop. All mutable state (the
// handle registry, the catalog exclusion list, the logs) is touched
// only from this loop; the signal watcher goroutine just posts events.
type Orchestrator struct {
	cfg     *config.Config
	console *output.Logger
	logs    *runlog.Logs
	engine  *retry.Engine

	validate func() error
	manager  serverManager
	pairwise pairwiseRunner
	cascade  cascadeRunner
	catalog  *discovery.Catalog
	watcher  *Watcher

	dryRun      bool
	origArgs    []string
	cleanupOnce sync.Once
	closers     []func()

	// execve is a test seam over syscall.Exec for the restart path.
	execve func(argv0 string, argv []string, envv []string) error
}

// Run executes the whole orchestrated run. It returns nil on full
// success (external cascade exhaustion included), ErrInterrupted on a
// termination signal, or a *retry.FatalError. Cleanup runs on every
// path.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.Cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.console.Bold("bwprobe run %s", o.logs.RunID())
	if o.dryRun {
		o.console.DryRun("simulation mode: no commands will be executed")
	}

	// Startup validation: fatal, no retry.
	if err := o.validate(); err != nil {
		o.console.Error("startup validation failed: %v", err)
		o.logs.Failure("startup validation failed", "error", err.Error())
		return &retry.FatalError{Op: "startup validation", Err: err}
	}
	o.console.Success("startup validation passed")

	phases := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"start servers", o.startServers},
		{"pairwise tests", o.runPairwise},
		{"external cascade", o.runCascade},
		{"stop servers", o.stopServers},
	}

	for _, phase := range phases {
		if err := o.handleEvents(cancel); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return o.interrupted()
		}
		if err := phase.run(ctx); err != nil {
			if ctx.Err() != nil {
				return o.interrupted()
			}
			return err
		}
	}

	o.console.Success("run complete")
	return nil
}

// handleEvents drains pending controller events between phases. Each
// event is a pure state transition; nothing re-entrant.
func (o *Orchestrator) handleEvents(cancel context.CancelFunc) error {
	if o.watcher == nil {
		return nil
	}
	for {
		select {
		case ev := <-o.watcher.Events():
			o.logs.Event("signal event", "event", ev.String())
			switch ev {
			case EventInterrupt:
				cancel()
				return o.interrupted()
			case EventReload:
				o.reloadExclusions()
			case EventRestart:
				return o.restart()
			case EventBrokenPipe:
				// Surfaces as a retryable failure inside whatever
				// operation hit the pipe; here it is only recorded.
				o.console.Warn("broken pipe condition observed")
			}
		default:
			return nil
		}
	}
}

// interrupted records the user-requested termination.
func (o *Orchestrator) interrupted() error {
	o.console.Warn("run interrupted; cleaning up")
	o.logs.Event("run interrupted")
	return ErrInterrupted
}

// reloadExclusions re-reads the exclusion file without restarting the
// run.
func (o *Orchestrator) reloadExclusions() {
	excluded, err := config.LoadExcludeFile(o.cfg.ExcludeFile)
	if err != nil {
		o.console.Warn("exclusion reload failed: %v", err)
		o.logs.Warn("exclusion reload failed", "error", err.Error())
		return
	}
	for host := range excluded {
		if !o.catalog.Contains(host) {
			o.console.Warn("excluded host %s is not in the external catalog", host)
		}
	}
	o.catalog.SetExcluded(excluded)
	o.console.Info("exclusion configuration reloaded (%d entries)", len(excluded))
	o.logs.Event("exclusions reloaded", "count", len(excluded))
}

// restart re-execs the process from scratch with its original
// arguments. Cleanup runs first so no server process leaks across the
// exec boundary.
func (o *Orchestrator) restart() error {
	o.console.Info("restart requested; re-executing")
	o.logs.Event("restarting", "args", fmt.Sprintf("%v", o.origArgs))
	o.Cleanup()

	exe, err := os.Executable()
	if err != nil {
		return &retry.FatalError{Op: "restart", Err: err}
	}
	if err := o.execve(exe, o.origArgs, os.Environ()); err != nil {
		return &retry.FatalError{Op: "restart", Err: err}
	}
	return nil
}

// startServers brings up the test server on every remote node and
// then the local one. Each start is retry-wrapped inside the manager.
func (o *Orchestrator) startServers(ctx context.Context) error {
	for _, node := range o.cfg.Remotes {
		if _, err := o.manager.Start(ctx, node.Address); err != nil {
			return err
		}
	}
	if _, err := o.manager.Start(ctx, server.LocalNode); err != nil {
		return err
	}
	return nil
}

// runPairwise exercises every remote in both directions.
func (o *Orchestrator) runPairwise(ctx context.Context) error {
	outcomes, err := o.pairwise.Run(ctx, o.cfg.Remotes)
	o.printOutcomes(outcomes)
	return err
}

// runCascade attempts one opportunistic external test. Exhaustion is
// best-effort: logged as a warning, never fatal.
func (o *Orchestrator) runCascade(ctx context.Context) error {
	if o.catalog.Len() == 0 {
		o.console.Info("no external servers configured, skipping cascade")
		return nil
	}
	_, err := o.cascade.Run(ctx)
	if err != nil {
		if errors.Is(err, discovery.ErrExhausted) {
			o.console.Warn("external test: %v", err)
			o.logs.Warn("external cascade exhausted")
			return nil
		}
		return err
	}
	return nil
}

// stopServers tears down every tracked server; failures are retried
// by the manager and fatal if they exhaust.
func (o *Orchestrator) stopServers(ctx context.Context) error {
	for _, h := range o.manager.Handles() {
		if err := o.manager.Stop(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// printOutcomes renders the per-pairing result table.
func (o *Orchestrator) printOutcomes(outcomes []runner.Outcome) {
	if len(outcomes) == 0 {
		return
	}
	o.console.Bold("pairwise results:")
	for _, out := range outcomes {
		status := "FAIL"
		if out.Passed {
			status = "PASS"
		}
		o.console.Info("  %-4s %s %s  %s", status, out.Remote, out.Direction, out.Detail)
	}
}

// Cleanup runs exactly once regardless of how the run ended: it stops
// any handle still running, writes the cleanup marker, and flushes
// the logs. It never fails the process.
func (o *Orchestrator) Cleanup() {
	o.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		o.manager.StopAll(ctx)
		for _, closeFn := range o.closers {
			closeFn()
		}
		o.logs.Event("cleanup completed")
		o.logs.Close()
		if o.watcher != nil {
			o.watcher.Stop()
		}
	})
}

// defaultExec is the real execve.
func defaultExec(argv0 string, argv []string, envv []string) error {
	return syscall.Exec(argv0, argv, envv)
}
