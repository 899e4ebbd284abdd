package server

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/remote"
	"github.com/bwprobe/bwprobe/internal/retry"
)

// fakeExecutor records commands and serves scripted failures.
type fakeExecutor struct {
	target   string
	commands []string
	// failPrefix makes commands starting with it fail this many times.
	failPrefix string
	failures   int
}

func (f *fakeExecutor) Run(ctx context.Context, command string) (*remote.Result, error) {
	f.commands = append(f.commands, command)
	if f.failPrefix != "" && strings.HasPrefix(command, f.failPrefix) && f.failures > 0 {
		f.failures--
		return &remote.Result{ExitCode: 1}, &remote.CommandError{
			Target: f.target, Command: command, ExitCode: 1,
		}
	}
	return &remote.Result{}, nil
}

func (f *fakeExecutor) Target() string { return f.target }
func (f *fakeExecutor) Close() error   { return nil }

// fakeStarter fakes local process control.
type fakeStarter struct {
	pid        int
	startErr   error
	alive      bool
	killCalls  int
	startCalls int
}

func (f *fakeStarter) Start(ctx context.Context, port int) (int, error) {
	f.startCalls++
	if f.startErr != nil {
		return 0, f.startErr
	}
	return f.pid, nil
}

func (f *fakeStarter) Alive(pid int) bool { return f.alive }

func (f *fakeStarter) Kill(pid int, grace time.Duration) error {
	f.killCalls++
	return nil
}

func newTestManager(t *testing.T, starter ProcessStarter, executors map[string]remote.Executor, dryRun bool) *Manager {
	t.Helper()
	var buf bytes.Buffer
	console := output.NewTestLogger(&buf)
	engine := retry.New(console, nil).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }).
		WithJitter(func() int { return 0 })

	m := NewManager(Options{
		Console:   console,
		Engine:    engine,
		Starter:   starter,
		Executors: executors,
		Port:      5201,
		Settle:    2 * time.Second,
		DryRun:    dryRun,
	})
	// Tests never wait out the settle delay.
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m
}

func TestManager_StartLocal(t *testing.T) {
	starter := &fakeStarter{pid: 4242, alive: true}
	local := &fakeExecutor{target: LocalNode}
	m := newTestManager(t, starter, map[string]remote.Executor{LocalNode: local}, false)

	h, err := m.Start(context.Background(), LocalNode)
	require.NoError(t, err)
	require.Equal(t, StateRunning, h.State)
	require.Equal(t, 4242, h.PID)
	require.Equal(t, 5201, h.Port)

	// Stale kill ran before the fresh start.
	require.Len(t, local.commands, 1)
	require.Contains(t, local.commands[0], "pkill")
	require.Equal(t, 1, starter.startCalls)
}

func TestManager_StartRemote(t *testing.T) {
	rem := &fakeExecutor{target: "10.0.0.2"}
	m := newTestManager(t, &fakeStarter{}, map[string]remote.Executor{"10.0.0.2": rem}, false)

	h, err := m.Start(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, StateRunning, h.State)
	require.Zero(t, h.PID) // remotes tracked by pattern, not PID

	// stale kill, start, verify — in that order.
	require.Len(t, rem.commands, 3)
	require.Contains(t, rem.commands[0], "pkill")
	require.Contains(t, rem.commands[1], "iperf3 -s -D")
	require.Contains(t, rem.commands[2], "pgrep")
}

func TestManager_StartIdempotentWhileActive(t *testing.T) {
	rem := &fakeExecutor{target: "10.0.0.2"}
	m := newTestManager(t, &fakeStarter{}, map[string]remote.Executor{"10.0.0.2": rem}, false)

	h1, err := m.Start(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	h2, err := m.Start(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	require.Same(t, h1, h2)
	require.Len(t, m.Handles(), 1)
}

func TestManager_StartRetriesThenFatal(t *testing.T) {
	// The daemonized start command fails on every attempt.
	rem := &fakeExecutor{target: "10.0.0.2", failPrefix: "iperf3 -s", failures: 1 << 10}
	m := newTestManager(t, &fakeStarter{}, map[string]remote.Executor{"10.0.0.2": rem}, false)

	h, err := m.Start(context.Background(), "10.0.0.2")
	require.Error(t, err)
	require.True(t, retry.IsFatal(err))
	require.Equal(t, StateFailed, h.State)

	// Initial attempt plus MaxRetries, each doing stale-kill + start.
	starts := 0
	for _, c := range rem.commands {
		if strings.HasPrefix(c, "iperf3 -s") {
			starts++
		}
	}
	require.Equal(t, 1+retry.DefaultMaxRetries, starts)
}

func TestManager_VerificationFailureRetried(t *testing.T) {
	// pgrep fails once, then the server is found.
	rem := &fakeExecutor{target: "10.0.0.2", failPrefix: "pgrep", failures: 1}
	m := newTestManager(t, &fakeStarter{}, map[string]remote.Executor{"10.0.0.2": rem}, false)

	h, err := m.Start(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, StateRunning, h.State)
}

func TestManager_LocalVerificationFatalWhenDead(t *testing.T) {
	starter := &fakeStarter{pid: 1, alive: false}
	local := &fakeExecutor{target: LocalNode}
	m := newTestManager(t, starter, map[string]remote.Executor{LocalNode: local}, false)

	_, err := m.Start(context.Background(), LocalNode)
	require.True(t, retry.IsFatal(err))
}

func TestManager_StopLocalByPID(t *testing.T) {
	starter := &fakeStarter{pid: 4242, alive: true}
	local := &fakeExecutor{target: LocalNode}
	m := newTestManager(t, starter, map[string]remote.Executor{LocalNode: local}, false)

	h, err := m.Start(context.Background(), LocalNode)
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), h))
	require.Equal(t, StateStopped, h.State)
	require.Equal(t, 1, starter.killCalls)
}

func TestManager_StopIdempotent(t *testing.T) {
	starter := &fakeStarter{pid: 4242, alive: true}
	local := &fakeExecutor{target: LocalNode}
	m := newTestManager(t, starter, map[string]remote.Executor{LocalNode: local}, false)

	h, err := m.Start(context.Background(), LocalNode)
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), h))
	require.NoError(t, m.Stop(context.Background(), h))
	require.Equal(t, 1, starter.killCalls, "second stop must be a no-op")
}

func TestManager_StopAllOnlyTouchesActive(t *testing.T) {
	starter := &fakeStarter{pid: 4242, alive: true}
	local := &fakeExecutor{target: LocalNode}
	rem := &fakeExecutor{target: "10.0.0.2"}
	m := newTestManager(t, starter, map[string]remote.Executor{
		LocalNode:  local,
		"10.0.0.2": rem,
	}, false)

	_, err := m.Start(context.Background(), LocalNode)
	require.NoError(t, err)
	hr, err := m.Start(context.Background(), "10.0.0.2")
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), hr))
	remCmds := len(rem.commands)

	m.StopAll(context.Background())
	require.Equal(t, 1, starter.killCalls)
	require.Equal(t, remCmds, len(rem.commands), "stopped remote must not be killed again")

	// Second StopAll: everything already stopped, nothing happens.
	m.StopAll(context.Background())
	require.Equal(t, 1, starter.killCalls)

	for _, h := range m.Handles() {
		require.Equal(t, StateStopped, h.State)
	}
}

func TestManager_StopAllKillsFailedRemoteStart(t *testing.T) {
	// Launch succeeds on every attempt but verification never does, so
	// the handle ends up failed with a server process left behind.
	rem := &fakeExecutor{target: "10.0.0.2", failPrefix: "pgrep", failures: 1 << 10}
	m := newTestManager(t, &fakeStarter{}, map[string]remote.Executor{"10.0.0.2": rem}, false)

	h, err := m.Start(context.Background(), "10.0.0.2")
	require.True(t, retry.IsFatal(err))
	require.Equal(t, StateFailed, h.State)

	before := len(rem.commands)
	m.StopAll(context.Background())
	require.Greater(t, len(rem.commands), before, "failed handle must still get a kill attempt")
	require.Contains(t, rem.commands[len(rem.commands)-1], "pkill")
	require.Equal(t, StateStopped, h.State)

	// Once killed, a second StopAll issues nothing further.
	after := len(rem.commands)
	m.StopAll(context.Background())
	require.Equal(t, after, len(rem.commands))
}

func TestManager_StopAllKillsFailedLocalLaunch(t *testing.T) {
	// The local process launches but is dead at verification.
	starter := &fakeStarter{pid: 77, alive: false}
	local := &fakeExecutor{target: LocalNode}
	m := newTestManager(t, starter, map[string]remote.Executor{LocalNode: local}, false)

	h, err := m.Start(context.Background(), LocalNode)
	require.True(t, retry.IsFatal(err))
	require.Equal(t, StateFailed, h.State)

	m.StopAll(context.Background())
	require.Equal(t, 1, starter.killCalls)
	require.Equal(t, StateStopped, h.State)
}

func TestManager_StopAllSkipsFailedLocalWithoutPID(t *testing.T) {
	// Start fails before launch, so there is no local PID to kill.
	starter := &fakeStarter{startErr: errors.New("spawn refused")}
	local := &fakeExecutor{target: LocalNode}
	m := newTestManager(t, starter, map[string]remote.Executor{LocalNode: local}, false)

	_, err := m.Start(context.Background(), LocalNode)
	require.True(t, retry.IsFatal(err))

	m.StopAll(context.Background())
	require.Zero(t, starter.killCalls, "nothing launched means nothing to kill")
}

func TestOSStarter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := OSStarter{}.Start(ctx, 5201)
	require.ErrorIs(t, err, context.Canceled)
}

func TestManager_DryRun(t *testing.T) {
	starter := &fakeStarter{}
	// In real wiring the executors are dry-run wrappers too; here the
	// fake just records the would-be stale-kill command.
	local := &fakeExecutor{target: LocalNode}
	m := newTestManager(t, starter, map[string]remote.Executor{LocalNode: local}, true)

	h, err := m.Start(context.Background(), LocalNode)
	require.NoError(t, err)
	require.Equal(t, StateRunning, h.State)
	require.Zero(t, starter.startCalls, "dry-run must not start processes")

	require.NoError(t, m.Stop(context.Background(), h))
	require.Equal(t, StateStopped, h.State)
	require.Zero(t, starter.killCalls, "dry-run must not kill processes")
}
