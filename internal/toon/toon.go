// Package toon implements component H: a renderer that turns a test
// run's results plus any collected trace into the token-compressed
// TOON report format spec.md §4.H defines.
//
// The teacher has no human-facing report renderer of its own to ground
// this on directly; the closest analog is
// internal/dispatcher/stats_collector.go's "small stats struct plus a
// dedicated GetStats/formatting function" idiom, which Render follows:
// a plain data Bundle in, a single formatted string out, no streaming
// or incremental state.
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/taist-dev/taist/pkg/trace"
)

// Stats summarizes a test run's pass/fail/skip counts.
type Stats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// Failure describes one failing test, per spec.md §4.H.
type Failure struct {
	Test     string
	File     string
	Line     int
	Col      int // 0 means "no column"
	Message  string
	Expected any // nil means "no exp/got section"
	Actual   any
}

// Coverage summarizes line coverage, per spec.md §4.H.
type Coverage struct {
	Percent float64
	Covered int
	Total   int
}

// Bundle is the renderer's complete input: stats are always present;
// Failures, Trace, and Coverage are each rendered only when non-empty.
type Bundle struct {
	Stats    Stats
	Failures []Failure
	Trace    []trace.Record
	Coverage *Coverage
}

// Options tunes the renderer. A zero Options uses spec.md's defaults.
type Options struct {
	Abbreviate    bool // apply the value-abbreviation dictionary
	MaxStringLen  int  // default 50
	MaxTraceGroups int // default 20; groups beyond this are summarized
}

func (o Options) withDefaults() Options {
	if o.MaxStringLen <= 0 {
		o.MaxStringLen = 50
	}
	if o.MaxTraceGroups <= 0 {
		o.MaxTraceGroups = 20
	}
	return o
}

// Render renders bundle into the TOON text document described in
// spec.md §4.H: a stats header, an optional FAILURES section, an
// optional TRACE section grouped by traceId, and an optional COV line.
func Render(bundle Bundle, opts Options) string {
	opts = opts.withDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, "===TESTS: %d/%d===\n", bundle.Stats.Passed, bundle.Stats.Total)

	if len(bundle.Failures) > 0 {
		b.WriteString("FAILURES:\n")
		for _, f := range bundle.Failures {
			writeFailure(&b, f, opts)
		}
	}

	if len(bundle.Trace) > 0 {
		b.WriteString("TRACE:\n")
		writeTrace(&b, bundle.Trace, opts)
	}

	if bundle.Coverage != nil {
		fmt.Fprintf(&b, "COV: %s%% (%d/%d)\n", trimTrailingZeros(bundle.Coverage.Percent), bundle.Coverage.Covered, bundle.Coverage.Total)
	}

	return b.String()
}

func writeFailure(b *strings.Builder, f Failure, opts Options) {
	fmt.Fprintf(b, "✗ %s\n", truncate(f.Test, opts.MaxStringLen))

	loc := "@" + abbreviatePath(f.File)
	if f.Line > 0 {
		loc += ":" + strconv.Itoa(f.Line)
		if f.Col > 0 {
			loc += ":" + strconv.Itoa(f.Col)
		}
	}
	fmt.Fprintf(b, "  %s\n", loc)

	msg := cleanMessage(f.Message)
	if opts.Abbreviate {
		msg = abbreviate(msg)
	}
	fmt.Fprintf(b, "  %s\n", truncate(msg, opts.MaxStringLen))

	if f.Expected != nil {
		fmt.Fprintf(b, "  exp: %s\n", renderValue(f.Expected, opts))
		fmt.Fprintf(b, "  got: %s\n", renderValue(f.Actual, opts))
	}
}

// writeTrace groups records by TraceID, orders each group by Timestamp,
// and renders a "--- <root name> ---" header per group followed by one
// indented line per record. Groups beyond opts.MaxTraceGroups collapse
// into a single summary line (spec.md §4.H).
func writeTrace(b *strings.Builder, records []trace.Record, opts Options) {
	order, groups := groupByTraceID(records)

	shown := order
	var dropped int
	if len(order) > opts.MaxTraceGroups {
		shown = order[:opts.MaxTraceGroups]
		dropped = len(order) - opts.MaxTraceGroups
	}

	for _, traceID := range shown {
		group := groups[traceID]
		sort.SliceStable(group, func(i, j int) bool { return group[i].TimestampMS < group[j].TimestampMS })

		fmt.Fprintf(b, "--- %s ---\n", rootName(group))
		for _, r := range group {
			writeTraceLine(b, r, opts)
		}
	}

	if dropped > 0 {
		fmt.Fprintf(b, "… and %d more requests\n", dropped)
	}
}

// groupByTraceID buckets records by TraceID, preserving the order in
// which each distinct TraceID was first observed.
func groupByTraceID(records []trace.Record) ([]string, map[string][]trace.Record) {
	groups := make(map[string][]trace.Record)
	var order []string
	for _, r := range records {
		if _, ok := groups[r.TraceID]; !ok {
			order = append(order, r.TraceID)
		}
		groups[r.TraceID] = append(groups[r.TraceID], r)
	}
	return order, groups
}

// rootName picks the name of the group's depth-0 record, falling back
// to the earliest record's name if no root is present (e.g. the late
// root scenario where descendants arrive first).
func rootName(group []trace.Record) string {
	for _, r := range group {
		if r.Depth == 0 {
			return r.Name
		}
	}
	if len(group) > 0 {
		return group[0].Name
	}
	return ""
}

func writeTraceLine(b *strings.Builder, r trace.Record, opts Options) {
	b.WriteString(strings.Repeat("  ", r.Depth))

	name := r.Name
	if opts.Abbreviate {
		name = abbreviate(name)
	}
	fmt.Fprintf(b, "fn:%s", name)

	if r.DurationMS != nil {
		fmt.Fprintf(b, " ms:%s", trimTrailingZeros(*r.DurationMS))
	}
	if len(r.Args) > 0 {
		fmt.Fprintf(b, " args:%s", renderValue(r.Args, opts))
	}
	if r.Result != nil {
		fmt.Fprintf(b, " ret:%s", renderValue(r.Result, opts))
	}
	if r.Error != nil {
		fmt.Fprintf(b, " err:%s", truncate(r.Error.Message, opts.MaxStringLen))
	}
	b.WriteString("\n")
}

func renderValue(v any, opts Options) string {
	s := fmt.Sprintf("%v", v)
	if opts.Abbreviate {
		s = abbreviate(s)
	}
	return truncate(s, opts.MaxStringLen)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)
var absolutePathPattern = regexp.MustCompile(`(?:/[\w.@-]+)+/[\w.@-]+`)
var timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`)

// cleanMessage strips ANSI escape codes, absolute paths, and timestamps
// from a failure message, per spec.md §4.H's FAILURES rendering rule.
func cleanMessage(msg string) string {
	msg = ansiPattern.ReplaceAllString(msg, "")
	msg = timestampPattern.ReplaceAllString(msg, "<time>")
	msg = absolutePathPattern.ReplaceAllStringFunc(msg, abbreviatePath)
	return msg
}

// pathPrefixes maps well-known absolute-path segments to their
// abbreviated form, per spec.md §4.H.
var pathPrefixes = []struct {
	marker string
	short  string
}{
	{"/node_modules/", "npm/"},
	{"/src/", "src/"},
}

// abbreviatePath shortens path for display: a known prefix segment
// (node_modules, src) is rewritten to its short form; anything else
// longer than 30 characters falls back to its basename.
func abbreviatePath(path string) string {
	for _, p := range pathPrefixes {
		if idx := strings.LastIndex(path, p.marker); idx >= 0 {
			return p.short + path[idx+len(p.marker):]
		}
	}
	if len(path) > 30 {
		return basename(path)
	}
	return path
}

func basename(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// abbreviations is the value-abbreviation dictionary spec.md §4.H
// names. Applied only when Options.Abbreviate is set.
var abbreviations = map[string]string{
	"function":  "fn",
	"expected":  "exp",
	"undefined": "undef",
	"boolean":   "bool",
	"object":    "obj",
	"property":  "prop",
	"argument":  "arg",
	"parameter": "param",
	"received":  "got",
}

var wordPattern = regexp.MustCompile(`[A-Za-z]+`)

// abbreviate rewrites any whole word in s found in the abbreviation
// dictionary, case-insensitively, preserving everything else verbatim.
func abbreviate(s string) string {
	return wordPattern.ReplaceAllStringFunc(s, func(word string) string {
		if short, ok := abbreviations[strings.ToLower(word)]; ok {
			return short
		}
		return word
	})
}

// trimTrailingZeros renders f with up to 2 decimal places, dropping an
// unnecessary ".00"/".0" suffix so integral durations/percentages print
// as plain integers.
func trimTrailingZeros(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
