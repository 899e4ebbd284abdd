package server

import (
	"context"
	"fmt"
	"time"

	"github.com/bwprobe/bwprobe/internal/iperf"
	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/remote"
	"github.com/bwprobe/bwprobe/internal/retry"
	"github.com/bwprobe/bwprobe/internal/runlog"
)

// LocalNode is the handle node name for the local test server.
const LocalNode = "local"

// stopGrace bounds how long Stop waits for SIGTERM before SIGKILL.
const stopGrace = 3 * time.Second

// Manager starts, verifies and stops test-server processes, tracking
// one handle per node. All methods run on the single control
// goroutine; there is no internal locking.
type Manager struct {
	console   *output.Logger
	logs      *runlog.Logs
	engine    *retry.Engine
	starter   ProcessStarter
	executors map[string]remote.Executor

	port    int
	settle  time.Duration
	dryRun  bool
	handles []*Handle

	// sleep is a test seam for the settle delay.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options configures a Manager.
type Options struct {
	Console   *output.Logger
	Logs      *runlog.Logs
	Engine    *retry.Engine
	Starter   ProcessStarter
	Executors map[string]remote.Executor
	Port      int
	Settle    time.Duration
	DryRun    bool
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Console == nil {
		opts.Console = output.DefaultLogger
	}
	if opts.Starter == nil {
		opts.Starter = OSStarter{}
	}
	return &Manager{
		console:   opts.Console,
		logs:      opts.Logs,
		engine:    opts.Engine,
		starter:   opts.Starter,
		executors: opts.Executors,
		port:      opts.Port,
		settle:    opts.Settle,
		dryRun:    opts.DryRun,
		sleep:     sleepCtx,
	}
}

// Handles returns the tracked handles.
func (m *Manager) Handles() []*Handle {
	return m.handles
}

// lookup returns the handle for node, if tracked.
func (m *Manager) lookup(node string) *Handle {
	for _, h := range m.handles {
		if h.Node == node {
			return h
		}
	}
	return nil
}

// Start brings up a test server on node (LocalNode or a remote
// address): kill any stale instance, launch fresh, settle, verify.
// The whole sequence runs through the retry engine, so a verification
// failure retries the start from scratch. At most one server per node
// is ever active.
func (m *Manager) Start(ctx context.Context, node string) (*Handle, error) {
	if h := m.lookup(node); h != nil && h.Active() {
		return h, nil
	}

	handle := &Handle{Node: node, Port: m.port, State: StateStarting}
	m.handles = append(m.handles, handle)

	startVerify := func(ctx context.Context) error {
		return m.startAndVerify(ctx, handle)
	}

	op := &retry.Operation{
		Name:    fmt.Sprintf("start test server on %s", node),
		Command: iperf.ServerCommand(m.port),
		Run:     startVerify,
		Retry:   startVerify,
	}

	if err := m.engine.Do(ctx, op); err != nil {
		handle.State = StateFailed
		return handle, err
	}

	handle.State = StateRunning
	m.console.Success("test server running on %s (port %d)", node, m.port)
	m.logs.Event("server started", "node", node, "port", m.port, "pid", handle.PID)
	return handle, nil
}

// startAndVerify is one attempt: stale kill, launch, settle, verify.
func (m *Manager) startAndVerify(ctx context.Context, h *Handle) error {
	if err := m.killStale(ctx, h.Node); err != nil {
		return err
	}
	if err := m.launch(ctx, h); err != nil {
		return err
	}
	if err := m.sleep(ctx, m.settle); err != nil {
		return err
	}
	if !m.verify(ctx, h) {
		return fmt.Errorf("test server on %s not present after start", h.Node)
	}
	h.State = StateVerified
	return nil
}

// killStale removes any leftover iperf3 server before a fresh start.
// A non-zero pkill exit (no process matched) is not an error.
func (m *Manager) killStale(ctx context.Context, node string) error {
	exec, ok := m.executors[node]
	if !ok {
		return fmt.Errorf("no executor for node %s", node)
	}
	_, err := exec.Run(ctx, fmt.Sprintf("pkill -f '%s' || true", iperf.ServerPattern))
	return err
}

// launch starts the server process on the node.
func (m *Manager) launch(ctx context.Context, h *Handle) error {
	if h.Node == LocalNode {
		if m.dryRun {
			m.console.DryRun("would execute on local: %s", iperf.ServerCommand(m.port))
			m.logs.Event("dry-run: would start server", "node", h.Node, "port", m.port)
			return nil
		}
		pid, err := m.starter.Start(ctx, m.port)
		if err != nil {
			return err
		}
		h.PID = pid
		return nil
	}

	exec, ok := m.executors[h.Node]
	if !ok {
		return fmt.Errorf("no executor for node %s", h.Node)
	}
	_, err := exec.Run(ctx, iperf.ServerCommand(m.port))
	return err
}

// verify polls once for the server process after the settle delay.
func (m *Manager) verify(ctx context.Context, h *Handle) bool {
	if m.dryRun {
		return true
	}
	if h.Node == LocalNode {
		return m.starter.Alive(h.PID)
	}
	exec, ok := m.executors[h.Node]
	if !ok {
		return false
	}
	_, err := exec.Run(ctx, fmt.Sprintf("pgrep -f '%s'", iperf.ServerPattern))
	return err == nil
}

// Stop tears down the server behind handle. Stopping a handle that is
// already stopped (or never got past failed) is a no-op. Failures are
// retried before becoming fatal.
func (m *Manager) Stop(ctx context.Context, h *Handle) error {
	if !h.Active() {
		return nil
	}

	stop := func(ctx context.Context) error {
		return m.kill(ctx, h)
	}

	op := &retry.Operation{
		Name:    fmt.Sprintf("stop test server on %s", h.Node),
		Command: fmt.Sprintf("pkill -f '%s'", iperf.ServerPattern),
		Run:     stop,
		Retry:   stop,
	}

	if err := m.engine.Do(ctx, op); err != nil {
		h.State = StateFailed
		return err
	}

	h.State = StateStopped
	m.logs.Event("server stopped", "node", h.Node, "pid", h.PID)
	return nil
}

// kill is one stop attempt: by PID locally, by pattern remotely.
func (m *Manager) kill(ctx context.Context, h *Handle) error {
	if m.dryRun {
		m.console.DryRun("would stop test server on %s", h.Node)
		m.logs.Event("dry-run: would stop server", "node", h.Node)
		return nil
	}
	if h.Node == LocalNode {
		return m.starter.Kill(h.PID, stopGrace)
	}
	exec, ok := m.executors[h.Node]
	if !ok {
		return fmt.Errorf("no executor for node %s", h.Node)
	}
	_, err := exec.Run(ctx, fmt.Sprintf("pkill -f '%s' || true", iperf.ServerPattern))
	return err
}

// StopAll stops every handle that may still have a process behind it.
// It is the cleanup path: it logs failures but never returns an
// error, and calling it again after all handles stopped issues no
// further kill attempts. Failed handles get one best-effort kill: a
// start that died at verification may still have launched a process.
func (m *Manager) StopAll(ctx context.Context) {
	for _, h := range m.handles {
		switch {
		case h.Active():
			if err := m.Stop(ctx, h); err != nil {
				m.console.Warn("failed to stop test server on %s: %v", h.Node, err)
				m.logs.Warn("cleanup: server stop failed", "node", h.Node, "error", err.Error())
			}
		case h.State == StateFailed:
			// A local start that failed before launch has no PID and
			// nothing to kill.
			if h.Node == LocalNode && h.PID == 0 {
				continue
			}
			if err := m.kill(ctx, h); err != nil {
				m.console.Warn("failed to stop test server on %s: %v", h.Node, err)
				m.logs.Warn("cleanup: server stop failed", "node", h.Node, "error", err.Error())
				continue
			}
			h.State = StateStopped
			m.logs.Event("server stopped", "node", h.Node, "pid", h.PID)
		}
	}
}

// sleepCtx waits for d, honoring context cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
