// Package retry wraps fallible operations with bounded, jittered
// exponential backoff and records diagnostic context on failure.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/bwprobe/bwprobe/internal/output"
	"github.com/bwprobe/bwprobe/internal/runlog"
)

// DefaultMaxRetries is the default number of retry attempts.
const DefaultMaxRetries = 3

// Operation describes one fallible unit of work.
//
// Run is attempted first. If it fails and Retry is non-nil, Retry is
// attempted up to MaxRetries times with backoff; each retry is the
// literal re-invocation of the operation, never a re-interpreted
// command string. If Retry is nil, or all retries fail, Do returns a
// FatalError.
type Operation struct {
	// Name identifies the operation in logs.
	Name string
	// Command is the failing command text recorded for diagnostics.
	Command string
	// Run performs the operation.
	Run func(ctx context.Context) error
	// Retry re-performs the operation; nil means not retryable.
	Retry func(ctx context.Context) error
	// MaxRetries bounds retry attempts; 0 means DefaultMaxRetries.
	MaxRetries int
}

// Engine executes Operations. Retry counts are scoped per Do call, so
// independent operations never share a counter.
type Engine struct {
	console *output.Logger
	logs    *runlog.Logs

	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() int
	waits      []time.Duration
	maxRetries int
}

// New creates an Engine logging to the given console and run logs.
func New(console *output.Logger, logs *runlog.Logs) *Engine {
	if console == nil {
		console = output.DefaultLogger
	}
	return &Engine{
		console:    console,
		logs:       logs,
		sleep:      sleepCtx,
		jitter:     func() int { return rand.Intn(5) },
		maxRetries: DefaultMaxRetries,
	}
}

// WithMaxRetries sets the default retry bound for operations that do
// not carry their own.
func (e *Engine) WithMaxRetries(n int) *Engine {
	if n > 0 {
		e.maxRetries = n
	}
	return e
}

// WithSleep overrides how the engine waits between retries. Tests use
// this to avoid real backoff delays.
func (e *Engine) WithSleep(f func(ctx context.Context, d time.Duration) error) *Engine {
	e.sleep = f
	return e
}

// WithJitter overrides the jitter source (0..4 seconds by default).
func (e *Engine) WithJitter(f func() int) *Engine {
	e.jitter = f
	return e
}

// Waits returns the backoff durations the engine has slept for, in
// order, across all operations.
func (e *Engine) Waits() []time.Duration {
	return e.waits
}

// Backoff returns the wait before retry attempt n (1-based):
// random(0..4) + 2^n seconds.
func (e *Engine) Backoff(attempt int) time.Duration {
	return time.Duration(e.jitter()+(1<<attempt)) * time.Second
}

// Do executes op, retrying per its configuration. A nil return means
// the operation ultimately succeeded; any non-nil return is a
// *FatalError and must terminate the run after cleanup.
func (e *Engine) Do(ctx context.Context, op *Operation) error {
	maxRetries := op.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.maxRetries
	}

	err := op.Run(ctx)
	if err == nil {
		return nil
	}

	ectx := e.record(op, err, 0)

	if op.Retry == nil {
		return &FatalError{Op: op.Name, Err: err, Context: ectx}
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		wait := e.Backoff(attempt)
		e.waits = append(e.waits, wait)
		e.console.Warn("%s failed (%s), retry %d/%d in %v",
			op.Name, ectx.Hint, attempt, maxRetries, wait)

		if serr := e.sleep(ctx, wait); serr != nil {
			return &FatalError{Op: op.Name, Err: serr, Context: ectx}
		}

		err = op.Retry(ctx)
		if err == nil {
			e.console.Success("%s succeeded on retry %d", op.Name, attempt)
			e.logs.Event("operation recovered", "op", op.Name, "attempt", attempt)
			return nil
		}
		ectx = e.record(op, err, attempt)
	}

	e.console.Error("%s failed after %d retries", op.Name, maxRetries)
	return &FatalError{Op: op.Name, Err: err, Context: ectx}
}

// record builds an ErrorContext for err and writes it to the error
// log and the console.
func (e *Engine) record(op *Operation, err error, attempt int) *ErrorContext {
	code := exitCode(err)
	hint := Classify(code)
	if IsBrokenPipe(err) {
		hint = "broken pipe (transient)"
	}
	ectx := &ErrorContext{
		Op:       op.Name,
		Command:  op.Command,
		ExitCode: code,
		Attempt:  attempt,
		Hint:     hint,
		Stack:    captureStack(2),
		Time:     time.Now(),
	}

	e.console.Debug("%s: %v (exit %d: %s)", op.Name, err, code, ectx.Hint)
	e.logs.Failure("operation failed",
		"op", ectx.Op,
		"command", ectx.Command,
		"exit_code", ectx.ExitCode,
		"attempt", ectx.Attempt,
		"hint", ectx.Hint,
		"error", err.Error(),
		"stack", ectx.Stack,
	)
	return ectx
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
