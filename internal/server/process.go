package server

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ProcessStarter abstracts local process control so tests can fake it.
type ProcessStarter interface {
	// Start launches a detached local iperf3 server and returns its PID.
	Start(ctx context.Context, port int) (int, error)
	// Alive reports whether the PID still refers to a live process.
	Alive(pid int) bool
	// Kill terminates the PID, SIGTERM first and SIGKILL after the
	// grace period.
	Kill(pid int, grace time.Duration) error
}

// OSStarter is the real ProcessStarter backed by os/exec.
type OSStarter struct{}

// Start launches iperf3 -s detached in its own session so it survives
// beyond this process if we crash before cleanup (cleanup kills it by
// PID or pattern).
func (OSStarter) Start(ctx context.Context, port int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// Plain exec.Command: the server must not die with the run
	// context; Stop owns its termination.
	cmd := exec.Command("iperf3", "-s", "-p", fmt.Sprintf("%d", port))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start local iperf3 server: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never zombies.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

// Alive sends signal 0 to probe for process presence.
func (OSStarter) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Kill terminates pid, escalating from SIGTERM to SIGKILL.
func (OSStarter) Kill(pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if proc.Signal(syscall.Signal(0)) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return proc.Signal(syscall.SIGKILL)
}

var _ ProcessStarter = OSStarter{}
