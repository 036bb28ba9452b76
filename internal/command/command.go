// Package command runs commands asynchronously behind per-group circuit
// breakers and reports each execution's lifecycle to a registered Hook.
//
// Every execution that starts produces exactly one terminal callback:
// OnExecutionSuccess, OnFallbackSuccess or OnError. A command that never
// starts, because it was cancelled while waiting for a slot or the engine
// was closed, produces no terminal callback; a hook implementing
// DiscardHook receives OnDiscarded for it instead.
package command

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrHookRegistered = errors.New("command: execution hook already registered")
	ErrCancelled      = errors.New("command: execution cancelled")
	ErrEngineClosed   = errors.New("command: engine closed")
	ErrPanic          = errors.New("command: panic during execution")
)

// Command is a unit of work executed by the Engine.
type Command interface {
	Run(ctx context.Context) (string, error)
}

// Fallbacker is implemented by commands that can produce a substitute
// result when the primary execution fails.
type Fallbacker interface {
	Fallback(ctx context.Context, cause error) (string, error)
}

// Grouped is implemented by commands that share a circuit breaker with
// other commands of the same group. Ungrouped commands use DefaultGroup.
type Grouped interface {
	Group() string
}

// DefaultGroup is the breaker group for commands that do not implement Grouped.
const DefaultGroup = "default"

// Hook observes command executions. Callbacks run on the execution
// goroutine and may be invoked concurrently for different commands.
type Hook interface {
	OnExecutionStart(cmd Command)
	OnExecutionSuccess(cmd Command)
	OnError(cmd Command, failure FailureType, err error)
	OnFallbackSuccess(cmd Command)
}

// DiscardHook is implemented by hooks that release the resources of
// commands dropped before they started.
type DiscardHook interface {
	OnDiscarded(cmd Command)
}

// FailureType classifies why an execution did not succeed.
type FailureType string

const (
	FailureCommand        FailureType = "command_failure"
	FailureTimeout        FailureType = "timeout"
	FailureShortCircuited FailureType = "short_circuited"
	FailureCancelled      FailureType = "cancelled"
)

// ExecutionError is the terminal error of a failed execution.
type ExecutionError struct {
	Type FailureType
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func groupOf(cmd Command) string {
	if g, ok := cmd.(Grouped); ok && g.Group() != "" {
		return g.Group()
	}
	return DefaultGroup
}
