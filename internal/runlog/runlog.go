// Package runlog maintains the append-only run and error logs.
//
// Both logs are pure sinks: the orchestration logic writes events and
// never reads them back. Each run is stamped with a fresh run ID so
// appended runs can be told apart.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
)

// File names inside the log directory.
const (
	RunLogName   = "run.log"
	ErrorLogName = "error.log"
)

// Logs owns the two append-only log files for one run.
type Logs struct {
	runID   string
	runFile *os.File
	errFile *os.File
	run     log.Logger
	errs    log.Logger
	started time.Time
	closed  bool
}

// Open creates the log directory if absent (0755), opens both log
// files in append mode (0644) and writes the run-start marker.
// An unwritable path is a fatal startup condition for the caller.
func Open(logDir string) (*Logs, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	runFile, err := os.OpenFile(filepath.Join(logDir, RunLogName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	errFile, err := os.OpenFile(filepath.Join(logDir, ErrorLogName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		runFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	runID := uuid.NewString()
	l := &Logs{
		runID:   runID,
		runFile: runFile,
		errFile: errFile,
		run:     log.NewLogger(runFile, log.OutputJSONOption()).With("run_id", runID),
		errs:    log.NewLogger(errFile, log.OutputJSONOption()).With("run_id", runID),
		started: time.Now(),
	}

	l.run.Info("run started")
	return l, nil
}

// RunID returns the identifier stamped on every record of this run.
func (l *Logs) RunID() string {
	return l.runID
}

// Event appends one record to the run log.
func (l *Logs) Event(msg string, keyVals ...any) {
	if l == nil || l.closed {
		return
	}
	l.run.Info(msg, keyVals...)
}

// Warn appends one warning record to the run log.
func (l *Logs) Warn(msg string, keyVals ...any) {
	if l == nil || l.closed {
		return
	}
	l.run.Warn(msg, keyVals...)
}

// Failure appends one record to the error log.
func (l *Logs) Failure(msg string, keyVals ...any) {
	if l == nil || l.closed {
		return
	}
	l.errs.Error(msg, keyVals...)
}

// Close writes the run-end marker and closes both files. Safe to call
// more than once; subsequent calls are no-ops.
func (l *Logs) Close() {
	if l == nil || l.closed {
		return
	}
	l.closed = true
	l.run.Info("run finished", "elapsed", time.Since(l.started).String())
	l.runFile.Close()
	l.errFile.Close()
}
