// Package httpadapter implements component I: a gorilla/mux middleware
// that seeds a root trace frame on every inbound request and emits one
// exit/error record for the route as a whole.
//
// Grounded on pkg/tracing.TraceHandler's shape (extract/propagate a
// span around the handler, record method/target/duration, inject back
// into the response) translated from an OTel span-in-context to this
// spec's Frame-in-context plus an explicit wrapper.Emitter, and on
// internal/app.registerHandlers' middleware-chaining convention
// (`func(http.Handler) http.Handler`, composed outermost-last).
package httpadapter

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/taist-dev/taist/internal/ctxstore"
	"github.com/taist-dev/taist/internal/idgen"
	"github.com/taist-dev/taist/internal/sanitize"
	"github.com/taist-dev/taist/internal/wrapper"
	"github.com/taist-dev/taist/pkg/trace"
)

// Recorder receives per-route duration telemetry. Implemented by
// internal/telemetry.Metrics; nil is safe (every call site checks first).
type Recorder interface {
	RouteDuration(method, path, status string, seconds float64)
}

// Middleware wraps every request with a fresh root frame and reports
// exactly one exit or error record named "Route.<METHOD> <path>".
type Middleware struct {
	ids      *idgen.Generator
	emit     wrapper.Emitter
	limits   sanitize.Limits
	recorder Recorder
}

// New builds the middleware. emitter is typically a *reporter.Client.
func New(ids *idgen.Generator, emitter wrapper.Emitter) *Middleware {
	return &Middleware{ids: ids, emit: emitter, limits: sanitize.DefaultLimits()}
}

// WithRecorder attaches a telemetry sink observing each route's duration.
func (m *Middleware) WithRecorder(r Recorder) *Middleware {
	m.recorder = r
	return m
}

// Wrap installs the middleware on router for every registered route.
func (m *Middleware) Wrap(router *mux.Router) {
	router.Use(m.handler)
}

func (m *Middleware) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := m.ids.Next()
		frame := trace.Frame{Depth: 0, TraceID: id, ID: id, CorrelationID: m.ids.Next()}

		ctxstore.FallbackSet(frame.CorrelationID)
		defer ctxstore.FallbackClear()

		route := routeTemplate(r)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctxstore.RunWith(r.Context(), frame, func(ctx context.Context) struct{} {
			defer m.recoverAndReport(frame, r.Method, route, start, rec)
			next.ServeHTTP(rec, r.WithContext(ctx))
			return struct{}{}
		})

		// Reached only when next.ServeHTTP returned normally: a panic
		// propagates past RunWith and this line never runs, leaving
		// recoverAndReport's error record as the route's only record.
		m.emitExit(frame, r.Method, route, start, rec.status)
	})
}

// recoverAndReport converts a panicking handler into an error record,
// per spec.md §4.I: "if the handler throws, an error record is emitted
// instead." The panic is re-raised after reporting so the process's own
// panic/recover policy (e.g. net/http's per-connection recover) still
// applies — tracing-side instrumentation never alters user behavior.
func (m *Middleware) recoverAndReport(frame trace.Frame, method, route string, start time.Time, rec *statusRecorder) {
	if p := recover(); p != nil {
		m.emitError(frame, method, route, start, p)
		panic(p)
	}
}

func (m *Middleware) emitExit(frame trace.Frame, method, route string, start time.Time, status int) {
	elapsed := time.Since(start)
	durationMS := float64(elapsed.Microseconds()) / 1000.0
	if m.recorder != nil {
		m.recorder.RouteDuration(method, route, strconv.Itoa(status), elapsed.Seconds())
	}
	m.emit.Emit(trace.Record{
		ID:            frame.ID,
		Name:          "Route." + method + " " + route,
		Type:          trace.TypeExit,
		Result:        sanitize.Value(map[string]any{"method": method, "path": route, "statusCode": status}, m.limits),
		DurationMS:    &durationMS,
		TimestampMS:   time.Now().UnixMilli(),
		Depth:         frame.Depth,
		TraceID:       frame.TraceID,
		CorrelationID: frame.CorrelationID,
	})
}

func (m *Middleware) emitError(frame trace.Frame, method, route string, start time.Time, panicVal any) {
	elapsed := time.Since(start)
	durationMS := float64(elapsed.Microseconds()) / 1000.0
	if m.recorder != nil {
		m.recorder.RouteDuration(method, route, "panic", elapsed.Seconds())
	}
	info := sanitize.Value(panicVal, m.limits)
	errInfo := &trace.ErrorInfo{Name: "panic", Message: toMessage(info)}
	m.emit.Emit(trace.Record{
		ID:            frame.ID,
		Name:          "Route." + method + " " + route,
		Type:          trace.TypeError,
		Error:         errInfo,
		DurationMS:    &durationMS,
		TimestampMS:   time.Now().UnixMilli(),
		Depth:         frame.Depth,
		TraceID:       frame.TraceID,
		CorrelationID: frame.CorrelationID,
	})
}

func toMessage(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "panic in handler"
}

// routeTemplate prefers the matched mux route's path template
// ("/users/{id}") over the raw URL so records don't explode in
// cardinality per distinct id.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// statusRecorder captures the response status code gorilla/mux's
// http.ResponseWriter otherwise hides from middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
