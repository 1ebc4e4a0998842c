// Package errors provides structured error handling for the Loom runtime.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// HookMismatchError reports that the sequence of hook calls inside one
// scope's compose function diverged from the previous composition of that
// scope. The violation is non-recoverable for the scope: the composer never
// substitutes a different slot.
type HookMismatchError struct {
	// Scope is the string form of the affected scope id.
	Scope string
	// Slot is the positional index at which the divergence was detected.
	Slot int
	// Want is the slot's recorded type from the previous composition.
	Want string
	// Got is the type requested by the current composition.
	Got string
	// Reason distinguishes type mismatches from count mismatches.
	Reason string
}

func (e *HookMismatchError) Error() string {
	if e.Want != "" || e.Got != "" {
		return fmt.Sprintf("hook mismatch in scope %s at slot %d: have %s, requested %s", e.Scope, e.Slot, e.Want, e.Got)
	}
	return fmt.Sprintf("hook mismatch in scope %s at slot %d: %s", e.Scope, e.Slot, e.Reason)
}

// StaleReferenceError reports a dereference of a handle or mapped reference
// whose source scope's generation has advanced. Recoverable: the data is no
// longer available, but the caller may continue.
type StaleReferenceError struct {
	// Scope is the string form of the scope id the reference was bound to.
	Scope string
	// Op is the operation that observed the staleness (e.g. "Ref.Deref").
	Op string
}

func (e *StaleReferenceError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: stale reference to scope %s", e.Op, e.Scope)
	}
	return fmt.Sprintf("stale reference to scope %s", e.Scope)
}

// UnknownScopeError reports an operation against a destroyed or
// never-allocated scope id.
type UnknownScopeError struct {
	// Scope is the string form of the requested scope id.
	Scope string
}

func (e *UnknownScopeError) Error() string {
	return fmt.Sprintf("unknown scope %s", e.Scope)
}

// ContextError reports a UseContext lookup that found no provider of the
// requested type in the scope's ancestor chain.
type ContextError struct {
	// Type is the requested value type.
	Type string
	// Scope is the string form of the requesting scope id.
	Scope string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("no context value of type %s provided above scope %s", e.Type, e.Scope)
}

// ComposeError represents a failure during one scope's compose invocation,
// usually a recovered panic. The composer retains the scope's previous
// output and the pass continues; the error is reported to the host through
// the global handler.
type ComposeError struct {
	// Composable is the type name of the composable that failed.
	Composable string
	// Scope is the string form of the owning scope id.
	Scope string
	// Recovered is the panic value (nil for regular errors).
	Recovered any
	// Err is the underlying error (nil for panics).
	Err error
	// StackTrace contains the call stack at the time of the failure.
	StackTrace string
	// Timestamp is when the failure occurred.
	Timestamp time.Time
}

func (e *ComposeError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("panic composing %s (scope %s): %v", e.Composable, e.Scope, e.Recovered)
	}
	if e.Err != nil {
		return fmt.Sprintf("error composing %s (scope %s): %v", e.Composable, e.Scope, e.Err)
	}
	return fmt.Sprintf("unknown failure composing %s (scope %s)", e.Composable, e.Scope)
}

func (e *ComposeError) Unwrap() error {
	return e.Err
}

// CycleError reports a cycle in the scope store's parent links. This is a
// structural invariant violation with no recovery path; startup must abort.
type CycleError struct {
	// Scope is the string form of the scope id at which the cycle closed.
	Scope string
	// Path lists the scope ids walked before the cycle was detected.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle in scope parent links at %s (path %s)", e.Scope, strings.Join(e.Path, " -> "))
}

// PanicError represents a panic recovered outside of composition, e.g. in a
// dispatched callback or a tree consumer.
type PanicError struct {
	// Op is the operation that panicked (e.g. "runtime.Dispatch").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// Handler receives errors reported by the Loom runtime.
type Handler interface {
	// HandleComposeError is called when a scope's compose invocation fails.
	HandleComposeError(err *ComposeError)
	// HandlePanic is called when a panic is recovered outside composition.
	HandlePanic(err *PanicError)
}
