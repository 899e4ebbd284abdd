package orchestrator

import (
	"os"
	"os/signal"
	"syscall"
)

// Event is a controller event derived from an OS signal. Signals are
// translated to events by the watcher goroutine; all state changes
// happen on the controller loop, never in a handler.
type Event int

const (
	// EventInterrupt aborts the run: no further operations start,
	// cleanup still runs, exit is non-zero.
	EventInterrupt Event = iota
	// EventBrokenPipe marks a broken-pipe condition, retryable.
	EventBrokenPipe
	// EventReload re-reads the exclusion configuration.
	EventReload
	// EventRestart re-execs the whole process with original args.
	EventRestart
)

func (e Event) String() string {
	switch e {
	case EventInterrupt:
		return "interrupt"
	case EventBrokenPipe:
		return "broken-pipe"
	case EventReload:
		return "reload"
	case EventRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Watcher translates OS signals into Events on a channel.
type Watcher struct {
	events chan Event
	sigs   chan os.Signal
	done   chan struct{}
}

// NewWatcher starts listening for SIGINT, SIGTERM, SIGPIPE, SIGHUP
// and SIGUSR1.
func NewWatcher() *Watcher {
	w := &Watcher{
		events: make(chan Event, 8),
		sigs:   make(chan os.Signal, 4),
		done:   make(chan struct{}),
	}
	signal.Notify(w.sigs,
		syscall.SIGINT, syscall.SIGTERM,
		syscall.SIGPIPE, syscall.SIGHUP, syscall.SIGUSR1)
	go w.loop()
	return w
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case sig := <-w.sigs:
			var ev Event
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				ev = EventInterrupt
			case syscall.SIGPIPE:
				ev = EventBrokenPipe
			case syscall.SIGHUP:
				ev = EventRestart
			case syscall.SIGUSR1:
				ev = EventReload
			default:
				continue
			}
			select {
			case w.events <- ev:
			default:
				// Channel full; drop rather than block the watcher.
			}
		}
	}
}

// Events returns the event channel consumed by the controller loop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops listening for signals. Idempotent.
func (w *Watcher) Stop() {
	signal.Stop(w.sigs)
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
