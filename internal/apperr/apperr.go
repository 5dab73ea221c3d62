// Package apperr defines the error kinds spec.md §7 names and the
// boundaries at which each is allowed to surface.
//
// Grounded on pkg/errors/errors.go's AppError/Severity/Code shape,
// narrowed from the teacher's broad taxonomy (security, resource,
// network, …) down to exactly the six kinds this system distinguishes.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the six error kinds spec.md §7 enumerates.
type Kind string

const (
	// KindConfig: malformed config file, bad glob, invalid format tag.
	// Surfaced to the user; aborts startup.
	KindConfig Kind = "ConfigError"
	// KindTransform: failure to rewrite a specific source file.
	// Surfaced as a warning; the file is passed through unchanged.
	KindTransform Kind = "TransformError"
	// KindTransport: socket connect/write failure in the reporter.
	// Absorbed — never propagates into user code.
	KindTransport Kind = "TransportError"
	// KindParse: malformed NDJSON line at the collector. Emitted as an
	// event; the line is dropped, the connection continues.
	KindParse Kind = "ParseError"
	// KindCaptured: an error thrown by wrapped user code. Emitted as an
	// error record AND rethrown unchanged by the wrapper.
	KindCaptured Kind = "CapturedError"
	// KindShutdownTimeout: connections still open after the stop grace
	// window. Not an exception — reported as an event.
	KindShutdownTimeout Kind = "ShutdownTimeout"
)

// Error is the system's single structured error type. It wraps Cause
// (when present) so errors.Is/errors.As work across component
// boundaries exactly as the teacher's AppError does with %w.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Cause     error
	Timestamp time.Time
}

// New builds an Error of the given kind, attributed to component/operation.
func New(kind Kind, component, operation string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s.%s: %v", e.Kind, e.Component, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s: %s.%s", e.Kind, e.Component, e.Operation)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperr.KindConfig-shaped sentinel) style
// comparisons by Kind alone, independent of Component/Operation/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// OfKind reports whether err (or any error it wraps) is an *Error of kind k.
func OfKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
