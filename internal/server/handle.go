// Package server manages the lifecycle of iperf3 test-server
// processes on local and remote nodes.
package server

// State is the lifecycle state of a tracked test-server process.
type State string

const (
	StateStarting State = "starting"
	StateVerified State = "verified"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Handle tracks one test-server process. Local servers are tracked by
// PID; remote ones by process pattern (PID zero).
type Handle struct {
	Node  string
	PID   int
	Port  int
	State State
}

// Active reports whether the handle still references a process that
// needs to be torn down.
func (h *Handle) Active() bool {
	return h.State == StateVerified || h.State == StateRunning || h.State == StateStarting
}
