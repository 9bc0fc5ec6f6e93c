package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseRegistry Phase = "registry" // record registration and lookup
	PhaseSchedule Phase = "schedule" // operation scheduling
	PhaseRun      Phase = "run"      // script execution
	PhaseHost     Phase = "host"     // host setup and script bindings
	PhaseClose    Phase = "close"    // teardown and draining
)

// Kind categorizes the error
type Kind string

const (
	KindCanceled     Kind = "canceled"
	KindTimeout      Kind = "timeout"
	KindNotFound     Kind = "not_found"
	KindClosed       Kind = "closed"
	KindScript       Kind = "script"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

// Error is the structured error type used throughout the library
type Error struct {
	Handle any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Handle != nil {
		b.WriteString(" (handle ")
		fmt.Fprintf(&b, "%v", e.Handle)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Handle sets the resource handle the error refers to
func (b *Builder) Handle(h any) *Builder {
	b.err.Handle = h
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a not-found error for an unknown handle
func NotFound(phase Phase, what string, handle any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Handle: handle,
		Detail: fmt.Sprintf("%s not found", what),
	}
}

// Closed creates an error for use of an already-closed component
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Script creates an error for a failed script execution
func Script(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindScript,
		Detail: what,
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Classify maps an arbitrary error to a Kind for callers that only branch on
// the category. Cancellation and deadline errors from context are recognized
// wherever they sit in the chain.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
