// Package remote executes privileged commands on test nodes.
//
// No retry logic lives here: failures are returned as-is for the
// retry engine to interpret.
package remote

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of one executed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandError reports a command that ran and exited non-zero.
type CommandError struct {
	Target   string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed on %s (exit %d): %s",
		e.Target, e.ExitCode, e.Command)
}

// Code returns the subprocess exit code, for the retry engine's
// classifier.
func (e *CommandError) Code() int {
	return e.ExitCode
}

// Executor runs an opaque command string on one node with elevated
// privilege and returns its outcome. An error is returned both for
// transport failures (unreachable host) and non-zero exits; in the
// latter case it is a *CommandError and Result is still populated.
type Executor interface {
	// Run executes command on the node this executor is bound to.
	Run(ctx context.Context, command string) (*Result, error)
	// Target names the node, for logs.
	Target() string
	// Close releases any held connection. Idempotent.
	Close() error
}
