// Package safego provides panic-recovering goroutine launchers for background work.
package safego

import (
	"context"
	"fmt"
	"log/slog"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. Use it for fire-and-forget work
// such as background jobs and snapshot persistence.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}

// Task is a handle to a background function started with Start. Any number of
// callers may wait on the same Task.
type Task struct {
	done chan struct{}
	err  error
}

// Start runs fn in a new goroutine and returns a handle to it. A panic in fn is
// recovered and reported as the task error. onDone, when non-nil, runs on the
// task goroutine after fn returns and before Done is closed.
func Start(fn func() error, onDone func(error)) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = run(fn)
		if onDone != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("recovered panic in task completion callback", "panic", r)
					}
				}()
				onDone(t.err)
			}()
		}
	}()
	return t
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background task", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done. It returns the task's
// error, or ctx.Err() if the context ended first.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
