// Package ctxstore implements component A, the context store: a
// per-call-chain frame that survives asynchronous suspension.
//
// Go has no implicit async-local storage — the idiomatic equivalent
// spec.md §9 names is "a context argument threaded through APIs", i.e.
// context.Context. Frame is carried as a context value; RunWith derives
// a child context carrying the new frame and hands it to fn, so the
// frame automatically reverts on every exit path (including panics)
// because the parent's context.Context is never mutated — only a new,
// scoped child is created. This mirrors pkg/tracing.NewTraceableContext
// / TraceableContext.Child from the teacher, translated from an OTel
// span-in-context to this spec's depth/traceId/parentId/correlationId
// frame.
package ctxstore

import (
	"context"
	"sync"

	"github.com/taist-dev/taist/pkg/trace"
)

// Frame is an alias to the shared trace.Frame type, so callers in this
// package don't need to import pkg/trace separately for the common case.
type Frame = trace.Frame

type frameKey struct{}

// Current returns the Frame bound to ctx, or the zero Frame if none is
// active (spec.md §4.A: current() returns a default zero frame).
func Current(ctx context.Context) Frame {
	if f, ok := ctx.Value(frameKey{}).(Frame); ok {
		return f
	}
	return Frame{}
}

// WithFrame returns a derived context carrying f. The parent ctx is
// untouched, so reverting to the caller's frame is just "keep using the
// parent context" — there is nothing to undo.
func WithFrame(ctx context.Context, f Frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

// RunWith executes fn in a new scope bound to f and returns fn's result.
// Because WithFrame only derives a child context, every exit path —
// normal return, panic, or the caller's own cancellation — leaves the
// parent's frame untouched.
func RunWith[T any](ctx context.Context, f Frame, fn func(context.Context) T) T {
	return fn(WithFrame(ctx, f))
}

// fallbackCorrelation is the process-wide, non-scoped slot documented
// in spec.md §4.A as "a last resort, not the primary channel" — used
// only when a downstream framework's executor discards the scoped
// context.Context entirely. Writes are intentionally racy: only one
// request at a time may safely mutate it, which is why httpadapter
// (component I) is the sole writer, setting it at request start and
// clearing it at response completion.
var fallbackMu sync.Mutex
var fallbackValue string

// FallbackGet returns the current fallback correlation id, or "" if unset.
func FallbackGet() string {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	return fallbackValue
}

// FallbackSet stores id as the fallback correlation id.
func FallbackSet(id string) {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	fallbackValue = id
}

// FallbackClear resets the fallback slot to empty.
func FallbackClear() {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	fallbackValue = ""
}
