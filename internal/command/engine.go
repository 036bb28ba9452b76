package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// tracerName is the instrumentation scope for execution spans.
const tracerName = "github.com/mattjoyce/layerqueue/internal/command"

// BreakerSettings configures the circuit breaker of every group.
type BreakerSettings struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold uint32
	// ResetAfter is how long the circuit stays open before probing again.
	ResetAfter time.Duration
	// HalfOpenRequests is how many probes are let through while half-open.
	HalfOpenRequests uint32
}

// Engine executes commands on its own goroutines.
type Engine struct {
	logger      *slog.Logger
	concurrency int64
	timeout     time.Duration
	settings    BreakerSettings
	tracer      trace.Tracer

	sem  *semaphore.Weighted
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	hookMu sync.RWMutex
	hook   Hook

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[string]

	closedMu sync.RWMutex
	closed   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency caps the number of commands executing at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = int64(n)
		}
	}
}

// WithTimeout bounds each execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithBreaker sets the breaker policy applied to every group.
func WithBreaker(s BreakerSettings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracerProvider sets the provider used for execution spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// NewEngine creates an Engine. Hooks are registered separately with
// RegisterHook.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:      slog.Default(),
		concurrency: 10,
		timeout:     30 * time.Second,
		settings: BreakerSettings{
			Threshold:        5,
			ResetAfter:       30 * time.Second,
			HalfOpenRequests: 1,
		},
		tracer:   otel.Tracer(tracerName),
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = semaphore.NewWeighted(e.concurrency)
	e.base, e.stop = context.WithCancel(context.Background())
	return e
}

// RegisterHook installs the lifecycle hook. It may be called once.
func (e *Engine) RegisterHook(h Hook) error {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	if e.hook != nil {
		return ErrHookRegistered
	}
	e.hook = h
	return nil
}

// Queue submits cmd for asynchronous execution and returns its handle.
func (e *Engine) Queue(cmd Command) *Future {
	ctx, cancel := context.WithCancel(e.base)
	f := newFuture(cancel)

	e.closedMu.RLock()
	defer e.closedMu.RUnlock()
	if e.closed {
		cancel()
		f.finish("", ErrEngineClosed)
		e.discard(cmd)
		return f
	}

	e.wg.Add(1)
	go e.run(ctx, cmd, f)
	return f
}

// Close interrupts running executions and waits for their goroutines to
// return or for ctx to end.
func (e *Engine) Close(ctx context.Context) error {
	e.closedMu.Lock()
	e.closed = true
	e.closedMu.Unlock()
	e.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BreakerStates reports the circuit state of every group seen so far.
func (e *Engine) BreakerStates() map[string]string {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	out := make(map[string]string, len(e.breakers))
	for name, cb := range e.breakers {
		out[name] = cb.State().String()
	}
	return out
}

func (e *Engine) run(ctx context.Context, cmd Command, f *Future) {
	defer e.wg.Done()
	defer f.cancel()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		f.finish("", ErrCancelled)
		e.discard(cmd)
		return
	}
	defer e.sem.Release(1)

	if !f.start() {
		e.discard(cmd)
		return
	}

	group := groupOf(cmd)
	ctx, span := e.tracer.Start(ctx, "command.execute", trace.WithAttributes(
		attribute.String("command.group", group),
		attribute.String("command.execution_id", f.ID()),
	))
	defer span.End()

	e.emit(func(h Hook) { h.OnExecutionStart(cmd) })

	result, err := e.breaker(group).Execute(func() (string, error) {
		return e.invoke(ctx, cmd)
	})
	if err == nil {
		span.SetStatus(codes.Ok, "")
		f.finish(result, nil)
		e.emit(func(h Hook) { h.OnExecutionSuccess(cmd) })
		return
	}

	failure := classify(err)
	span.RecordError(err)
	span.SetAttributes(attribute.String("command.failure_type", string(failure)))

	if fb, ok := cmd.(Fallbacker); ok && failure != FailureCancelled {
		out, fbErr := fb.Fallback(ctx, err)
		if fbErr == nil {
			span.SetStatus(codes.Error, "fallback")
			f.finish(out, nil)
			e.emit(func(h Hook) { h.OnFallbackSuccess(cmd) })
			return
		}
		err = fmt.Errorf("%w (fallback: %v)", err, fbErr)
	}

	execErr := &ExecutionError{Type: failure, Err: err}
	span.SetStatus(codes.Error, execErr.Error())
	f.finish("", execErr)
	e.emit(func(h Hook) { h.OnError(cmd, failure, execErr) })
}

func (e *Engine) invoke(ctx context.Context, cmd Command) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	out, err = cmd.Run(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return out, err
}

func (e *Engine) breaker(group string) *gobreaker.CircuitBreaker[string] {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if cb, ok := e.breakers[group]; ok {
		return cb
	}

	threshold := e.settings.Threshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        group,
		MaxRequests: e.settings.HalfOpenRequests,
		Timeout:     e.settings.ResetAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				slog.String("group", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	e.breakers[group] = cb
	return cb
}

// emit invokes fn with the registered hook. Hook panics are logged and
// never reach the execution goroutine.
func (e *Engine) emit(fn func(Hook)) {
	e.hookMu.RLock()
	h := e.hook
	e.hookMu.RUnlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("execution hook panicked", slog.Any("panic", r))
		}
	}()
	fn(h)
}

func (e *Engine) discard(cmd Command) {
	e.emit(func(h Hook) {
		if d, ok := h.(DiscardHook); ok {
			d.OnDiscarded(cmd)
		}
	})
}

func classify(err error) FailureType {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return FailureShortCircuited
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	default:
		return FailureCommand
	}
}
