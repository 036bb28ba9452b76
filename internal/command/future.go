package command

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type futureState int

const (
	statePending futureState = iota
	stateRunning
	stateFinished
)

// Future is the handle of one queued execution.
type Future struct {
	id     string
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	state  futureState
	result string
	err    error
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// ID uniquely identifies this execution.
func (f *Future) ID() string { return f.id }

// Done is closed once the execution has finished or been cancelled.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the execution finished or was cancelled.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Cancel marks the execution cancelled and done. If the execution has not
// started it will never start; if it is running, its context is cancelled
// only when mayInterrupt is set. Cancel returns false if the execution had
// already finished. It never waits for the execution to stop.
func (f *Future) Cancel(mayInterrupt bool) bool {
	f.mu.Lock()
	if f.state == stateFinished {
		f.mu.Unlock()
		return false
	}
	running := f.state == stateRunning
	f.state = stateFinished
	f.err = ErrCancelled
	close(f.done)
	f.mu.Unlock()

	if mayInterrupt || !running {
		f.cancel()
	}
	return true
}

// Wait blocks until the execution is done or ctx ends.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Future) start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != statePending {
		return false
	}
	f.state = stateRunning
	return true
}

func (f *Future) finish(result string, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == stateFinished {
		return false
	}
	f.state = stateFinished
	f.result = result
	f.err = err
	close(f.done)
	return true
}
