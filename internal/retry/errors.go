package retry

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ErrorContext captures diagnostic context when a wrapped operation
// fails. It is written to the error log and, if retries exhaust,
// surfaced inside the FatalError.
type ErrorContext struct {
	Op       string
	Command  string
	ExitCode int
	Attempt  int
	Hint     string
	Stack    string
	Time     time.Time
}

// FatalError marks an exhausted-retry or non-retryable failure. The
// orchestrator treats it as process-terminating: cleanup runs, then
// the process exits non-zero.
type FatalError struct {
	Op      string
	Err     error
	Context *ErrorContext
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: operation %q failed: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Coded is implemented by errors that carry a subprocess exit code.
type Coded interface {
	Code() int
}

// exitCode extracts a numeric exit code from err. Unknown errors map
// to 1, matching the shell convention for a general error.
func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return 1
}

// Classify maps a numeric exit code to a human-readable hint. The
// hint is advisory, for log readers only; it never changes retry
// behavior.
func Classify(code int) string {
	switch code {
	case 1:
		return "general error"
	case 2:
		return "misuse of command / bad invocation"
	case 126:
		return "command invoked cannot execute (permission problem?)"
	case 127:
		return "command not found"
	case 130:
		return "terminated by user interrupt"
	default:
		return fmt.Sprintf("unrecognized exit code %d", code)
	}
}

// IsBrokenPipe reports whether err stems from a broken pipe. Broken
// pipes are retryable, not fatal.
func IsBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	return strings.Contains(err.Error(), "broken pipe")
}

// captureStack records the call stack of the failure site for the
// error log, skipping the retry engine's own frames.
func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
