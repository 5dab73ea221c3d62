// Package wrapper implements component D: the callable invoked by
// rewritten code at every instrumented call site.
//
// Grounded on pkg/tracing.InstrumentedFunction.Execute (enter → measure
// → user code → error-or-ok → End) and NewTraceableContext/Child for
// the context-carried-frame shape, translated from OTel spans to this
// spec's depth/traceId/parentId/correlationId Frame.
package wrapper

import (
	"context"
	"strings"
	"time"

	"github.com/taist-dev/taist/internal/ctxstore"
	"github.com/taist-dev/taist/internal/filterconfig"
	"github.com/taist-dev/taist/internal/idgen"
	"github.com/taist-dev/taist/internal/sanitize"
	"github.com/taist-dev/taist/pkg/trace"
)

// Emitter accepts a completed or in-flight Record. The reporter client
// implements this.
type Emitter interface {
	Emit(trace.Record)
}

// Future is the Go analogue of the "lazy/future handle" spec.md §4.D
// step 5 describes: a value returned synchronously whose eventual
// success or failure is observed later. A wrapped function may return
// a Future instead of settling immediately; the wrapper attaches
// continuations rather than emitting "exit" right away.
type Future interface {
	// OnSettle registers callbacks invoked exactly once, when the
	// future resolves: onSuccess(result) or onError(err).
	OnSettle(onSuccess func(any), onError func(error))
}

// Func is the signature a wrapped call site invokes: it receives the
// context carrying the child frame the wrapper just created.
type Func func(ctx context.Context) (any, error)

// Runtime holds the shared state every Wrap call needs: the id
// generator, the emitter, the resolved config, and the name filter.
type Runtime struct {
	cfg    *filterconfig.Config
	ids    *idgen.Generator
	emit   Emitter
	names  filterconfig.NamePredicate
	limits sanitize.Limits
}

// New builds a Runtime. emitter is typically a *reporter.Client.
func New(cfg *filterconfig.Config, ids *idgen.Generator, emitter Emitter) *Runtime {
	return &Runtime{
		cfg:    cfg,
		ids:    ids,
		emit:   emitter,
		names:  filterconfig.NewNamePredicate(cfg.ExcludeNames),
		limits: sanitize.DefaultLimits(),
	}
}

// Wrap is the function rewritten code calls at every instrumented
// invocation. name is the qualified operation name ("Calc.add",
// "Route.POST /users", …). args is the raw (unsanitized) argument list,
// sanitized only if a record is actually going to be emitted.
//
// Wrap never alters fn's outcome: on error, the same error is returned
// (spec.md's CapturedError: "emitted AND rethrown unchanged"); on a
// Future result, the Future is returned unchanged.
func (r *Runtime) Wrap(ctx context.Context, name string, args []any, fn Func) (any, error) {
	if r.cfg == nil || !r.cfg.Enabled {
		return fn(ctx)
	}

	caller := ctxstore.Current(ctx)
	if caller.Depth >= r.cfg.Depth {
		// Depth policy (spec.md §4.D): pass-through once the cap is
		// reached. Still invokes fn, creates no child frame, emits
		// nothing — keeps deep recursion cheap and bounded.
		return fn(ctx)
	}

	id := r.ids.Next()
	child := caller.Child(id, ctxstore.FallbackGet())
	emit := r.names(name) && !filterconfig.FunctionExcluded(r.cfg, shortName(name))

	if emit {
		r.emitEnter(child, name, args)
	}

	start := time.Now()
	var result any
	var callErr error
	ctxstore.RunWith(ctx, child, func(scoped context.Context) struct{} {
		result, callErr = fn(scoped)
		return struct{}{}
	})

	if callErr != nil {
		if emit {
			r.emitSettled(child, name, start, nil, callErr)
		}
		return result, callErr
	}

	if future, ok := result.(Future); ok {
		// Step 5: attach continuations; duration is measured from the
		// original start regardless of when the future later settles.
		future.OnSettle(
			func(v any) {
				if emit {
					r.emitSettled(child, name, start, v, nil)
				}
			},
			func(err error) {
				if emit {
					r.emitSettled(child, name, start, nil, err)
				}
			},
		)
		return result, nil
	}

	if emit {
		r.emitSettled(child, name, start, result, nil)
	}
	return result, nil
}

// emitEnter emits the enter record for the child frame f. Per spec.md
// §9's resolution of the depth ambiguity, the depth recorded is the
// *caller's* depth — the depth at which the operation was observed —
// which for a child frame one level deeper than its caller is
// f.Depth-1, the same value emitSettled records for the matching
// exit/error so both halves of one invocation agree.
func (r *Runtime) emitEnter(f trace.Frame, name string, args []any) {
	r.emit.Emit(trace.Record{
		ID:            f.ID,
		Name:          name,
		Type:          trace.TypeEnter,
		Args:          sanitize.Values(args, r.limits),
		TimestampMS:   time.Now().UnixMilli(),
		Depth:         f.Depth - 1,
		ParentID:      f.ParentID,
		TraceID:       f.TraceID,
		CorrelationID: f.CorrelationID,
	})
}

// emitSettled emits the exit or error record for f. Per spec.md §9's
// resolution of the depth ambiguity, the depth recorded here is the
// *caller's* depth — the depth at which the operation was observed —
// which for a child frame one level deeper than its caller is
// f.Depth-1. This matches the wrapper's own use of caller.Depth to
// build the child frame in the first place.
func (r *Runtime) emitSettled(f trace.Frame, name string, start time.Time, result any, err error) {
	durationMS := float64(time.Since(start).Microseconds()) / 1000.0
	rec := trace.Record{
		ID:            f.ID,
		Name:          name,
		DurationMS:    &durationMS,
		TimestampMS:   time.Now().UnixMilli(),
		Depth:         f.Depth - 1,
		ParentID:      f.ParentID,
		TraceID:       f.TraceID,
		CorrelationID: f.CorrelationID,
	}
	if err != nil {
		rec.Type = trace.TypeError
		info := sanitize.Value(err, r.limits).(map[string]any)
		rec.Error = &trace.ErrorInfo{
			Name:    fieldString(info, "name"),
			Message: fieldString(info, "message"),
			Stack:   fieldStrings(info, "stack"),
		}
	} else {
		rec.Type = trace.TypeExit
		rec.Result = sanitize.Value(result, r.limits)
	}
	r.emit.Emit(rec)
}

// shortName extracts the bare method/function name from a qualified
// name ("Calc.add" -> "add", "handlers.Query.getUser" -> "getUser"),
// the form filterconfig.FunctionExcluded matches against per spec.md
// §4.G's per-function exclusion list.
func shortName(qualified string) string {
	if idx := strings.LastIndexByte(qualified, '.'); idx >= 0 {
		return qualified[idx+1:]
	}
	return qualified
}

func fieldString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func fieldStrings(m map[string]any, key string) []string {
	if s, ok := m[key].([]string); ok {
		return s
	}
	return nil
}
