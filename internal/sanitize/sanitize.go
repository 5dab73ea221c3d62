// Package sanitize bounds the size of argument/result/error snapshots
// captured at instrumented call sites, per spec.md §3's sanitization
// rules. It is used by the wrapper runtime (component D) before a
// record ever reaches the reporter's outbox.
package sanitize

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"time"
)

// Limits bounds a single sanitization pass. Zero-value fields are
// replaced with the defaults spec.md §3 names.
type Limits struct {
	MaxStringLen int // default 50
	MaxArrayLen  int // default 5
	MaxObjectLen int // default 5
	MaxDepth     int // default 2
}

// DefaultLimits returns the spec.md-mandated defaults.
func DefaultLimits() Limits {
	return Limits{MaxStringLen: 50, MaxArrayLen: 5, MaxObjectLen: 5, MaxDepth: 2}
}

func (l Limits) withDefaults() Limits {
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = 50
	}
	if l.MaxArrayLen <= 0 {
		l.MaxArrayLen = 5
	}
	if l.MaxObjectLen <= 0 {
		l.MaxObjectLen = 5
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = 2
	}
	return l
}

// Value bounds v to Limits, returning a JSON-marshalable snapshot safe
// to attach to a Record's Args/Result field.
func Value(v any, limits Limits) any {
	limits = limits.withDefaults()
	return sanitize(reflect.ValueOf(v), limits, 0)
}

// Values sanitizes a positional argument list.
func Values(vs []any, limits Limits) []any {
	limits = limits.withDefaults()
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = sanitize(reflect.ValueOf(v), limits, 0)
	}
	return out
}

func sanitize(rv reflect.Value, limits Limits, depth int) any {
	if !rv.IsValid() {
		return nil
	}

	// Unwrap interfaces/pointers before dispatching on kind. The error
	// check runs at every level, since most error types implement the
	// interface on a pointer receiver.
	for {
		if (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) && rv.IsNil() {
			return nil
		}
		if err, ok := rv.Interface().(error); ok {
			return sanitizeError(err)
		}
		if rv.Kind() != reflect.Interface && rv.Kind() != reflect.Pointer {
			break
		}
		rv = rv.Elem()
	}

	if t, ok := rv.Interface().(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}

	switch rv.Kind() {
	case reflect.String:
		return truncateString(rv.String(), limits.MaxStringLen)
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Func:
		return fmt.Sprintf("[Function: %s]", funcName(rv))
	case reflect.Slice, reflect.Array:
		return sanitizeArray(rv, limits, depth)
	case reflect.Map:
		return sanitizeMap(rv, limits, depth)
	case reflect.Struct:
		return sanitizeStruct(rv, limits, depth)
	default:
		return fmt.Sprintf("%v", rv.Interface())
	}
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func sanitizeArray(rv reflect.Value, limits Limits, depth int) any {
	n := rv.Len()
	max := limits.MaxArrayLen
	if n <= max {
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = childValue(rv.Index(i), limits, depth)
		}
		return out
	}
	out := make([]any, max+1)
	for i := 0; i < max; i++ {
		out[i] = childValue(rv.Index(i), limits, depth)
	}
	out[max] = fmt.Sprintf("+%d more", n-max)
	return out
}

func sanitizeMap(rv reflect.Value, limits Limits, depth int) any {
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, fmt.Sprintf("%v", k.Interface()))
	}
	sort.Strings(keys)

	out := map[string]any{}
	max := limits.MaxObjectLen
	shown := 0
	for _, k := range keys {
		if shown >= max {
			out["…"] = fmt.Sprintf("%d more", len(keys)-max)
			break
		}
		mv := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
		out[k] = childValue(mv, limits, depth)
		shown++
	}
	return out
}

func sanitizeStruct(rv reflect.Value, limits Limits, depth int) any {
	t := rv.Type()
	out := map[string]any{}
	max := limits.MaxObjectLen
	shown := 0
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if shown >= max {
			out["…"] = fmt.Sprintf("%d more", t.NumField()-i)
			break
		}
		out[f.Name] = childValue(rv.Field(i), limits, depth)
		shown++
	}
	return out
}

// childValue descends one level, applying the depth cap: once the
// child's depth (depth+1) reaches limits.MaxDepth, nested structures
// collapse to a marker instead of being walked further.
func childValue(rv reflect.Value, limits Limits, depth int) any {
	if depth+1 >= limits.MaxDepth {
		switch kindOf(rv) {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
			return "[Object]"
		}
	}
	return sanitize(rv, limits, depth+1)
}

func kindOf(rv reflect.Value) reflect.Kind {
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Invalid
		}
		rv = rv.Elem()
	}
	return rv.Kind()
}

func sanitizeError(err error) map[string]any {
	frames := firstStackFrames(2)
	return map[string]any{
		"name":    fmt.Sprintf("%T", err),
		"message": err.Error(),
		"stack":   frames,
	}
}

func firstStackFrames(n int) []string {
	pcs := make([]uintptr, n+4)
	count := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:count])
	out := make([]string, 0, n)
	for len(out) < n {
		f, more := frames.Next()
		out = append(out, fmt.Sprintf("%s:%d %s", f.File, f.Line, f.Function))
		if !more {
			break
		}
	}
	return out
}

func funcName(rv reflect.Value) string {
	name := runtime.FuncForPC(rv.Pointer()).Name()
	if name == "" {
		return "anonymous"
	}
	return name
}
