package safepoint

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrClosed is returned by operations on an engine after Close.
	ErrClosed = errors.New("safepoint: engine closed")
	// ErrDetached is returned when a detached thread is used.
	ErrDetached = errors.New("safepoint: thread detached")
	// ErrMustNotBlock is returned when a thread tries to block while it
	// executes an operation or a recurring callback.
	ErrMustNotBlock = errors.New("safepoint: thread must not block in this context")
	// ErrReentrant is returned when a thread executing an operation submits
	// another one through the engine instead of its OperationContext.
	ErrReentrant = errors.New("safepoint: nested operation must use OperationContext.Enqueue")
	// ErrNotSuspended is returned by Resume for a thread that is not
	// suspended.
	ErrNotSuspended = errors.New("safepoint: thread not suspended")
	// ErrRecurringDisabled is returned when recurring callbacks are
	// disabled process-wide.
	ErrRecurringDisabled = errors.New("safepoint: recurring callbacks disabled")
	// ErrOtherEngine is returned when a thread of one engine is passed to
	// another.
	ErrOtherEngine = errors.New("safepoint: thread belongs to another engine")
)

// TransitionError describes an illegal state transition detected by the
// strict transition check.
type TransitionError struct {
	Thread ThreadID
	From   Status
	To     Status
}

// Error implements error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("safepoint: thread %d: illegal transition %v -> %v", e.Thread, e.From, e.To)
}

// OperationPanicError is an arbitrary value recovered from a panic in
// [Operation.Operate], with the stack trace of the executing goroutine.
type OperationPanicError struct {
	Operation string
	Value     any
	Stack     []byte
}

// Error implements error interface.
func (p *OperationPanicError) Error() string {
	return fmt.Sprintf("safepoint: operation %q panicked: %v\n\n%s", p.Operation, p.Value, p.Stack)
}

// Unwrap returns the underlying error value, if any.
func (p *OperationPanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

func newOperationPanicError(name string, v any) error {
	stack := debug.Stack()
	// Trim first line "goroutine N [status]:" which can be misleading.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &OperationPanicError{Operation: name, Value: v, Stack: stack}
}
