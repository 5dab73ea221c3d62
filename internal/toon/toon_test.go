package toon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taist-dev/taist/pkg/trace"
)

func TestRender_HeaderOnly(t *testing.T) {
	out := Render(Bundle{Stats: Stats{Total: 10, Passed: 8, Failed: 2}}, Options{})
	assert.Equal(t, "===TESTS: 8/10===\n", out)
}

func TestRender_Failures(t *testing.T) {
	out := Render(Bundle{
		Stats: Stats{Total: 1, Passed: 0, Failed: 1},
		Failures: []Failure{
			{
				Test:     "registers a user",
				File:     "/home/runner/project/src/user_test.go",
				Line:     42,
				Col:      5,
				Message:  "\x1b[31mexpected true, got false\x1b[0m at /home/runner/project/src/user.go",
				Expected: true,
				Actual:   false,
			},
		},
	}, Options{})

	assert.Contains(t, out, "FAILURES:\n")
	assert.Contains(t, out, "✗ registers a user\n")
	assert.Contains(t, out, "@src/user_test.go:42:5\n")
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "exp: true\n")
	assert.Contains(t, out, "got: false\n")
}

func TestRender_FailureMessageStripsTimestamp(t *testing.T) {
	out := Render(Bundle{
		Stats:    Stats{Total: 1, Failed: 1},
		Failures: []Failure{{Test: "t", Message: "failed at 2026-07-31T10:00:00.123Z"}},
	}, Options{})
	assert.Contains(t, out, "failed at <time>")
	assert.NotContains(t, out, "2026-07-31T10:00:00.123Z")
}

func TestRender_TraceGroupedByTraceID(t *testing.T) {
	records := []trace.Record{
		{ID: "1", TraceID: "t1", Name: "create", Type: trace.TypeEnter, Depth: 0, TimestampMS: 1},
		{ID: "2", TraceID: "t1", Name: "validate", Type: trace.TypeEnter, Depth: 1, TimestampMS: 2},
		{ID: "2", TraceID: "t1", Name: "validate", Type: trace.TypeExit, Depth: 1, TimestampMS: 3, DurationMS: floatPtr(1)},
		{ID: "1", TraceID: "t1", Name: "create", Type: trace.TypeExit, Depth: 0, TimestampMS: 4, DurationMS: floatPtr(3)},
	}

	out := Render(Bundle{Stats: Stats{Total: 1, Passed: 1}, Trace: records}, Options{})

	assert.Contains(t, out, "TRACE:\n")
	assert.Contains(t, out, "--- create ---\n")

	lines := strings.Split(out, "\n")
	var traceLines []string
	inTrace := false
	for _, l := range lines {
		if l == "TRACE:" {
			inTrace = true
			continue
		}
		if inTrace && l != "" {
			traceLines = append(traceLines, l)
		}
	}
	// header + 4 records
	assert.Len(t, traceLines, 5)
	assert.Equal(t, "fn:create ms:3", traceLines[4])
	assert.Equal(t, "  fn:validate ms:1", traceLines[3])
}

func TestRender_TraceGroupSummaryBeyondMax(t *testing.T) {
	var records []trace.Record
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		records = append(records, trace.Record{ID: id, TraceID: id, Name: "op" + id, Depth: 0, TimestampMS: int64(i)})
	}

	out := Render(Bundle{Stats: Stats{Total: 1, Passed: 1}, Trace: records}, Options{MaxTraceGroups: 2})
	assert.Contains(t, out, "… and 3 more requests\n")
}

func TestRender_LateRootStillGroupedByTraceID(t *testing.T) {
	records := []trace.Record{
		{ID: "child", TraceID: "root", Name: "child-op", Depth: 1, TimestampMS: 1},
		{ID: "root", TraceID: "root", Name: "root-op", Depth: 0, TimestampMS: 100},
	}
	out := Render(Bundle{Stats: Stats{Total: 1, Passed: 1}, Trace: records}, Options{})
	assert.Contains(t, out, "--- root-op ---\n")
}

func TestRender_Coverage(t *testing.T) {
	out := Render(Bundle{
		Stats:    Stats{Total: 1, Passed: 1},
		Coverage: &Coverage{Percent: 87.5, Covered: 175, Total: 200},
	}, Options{})
	assert.Contains(t, out, "COV: 87.5% (175/200)\n")
}

func TestAbbreviate(t *testing.T) {
	out := Render(Bundle{
		Stats:    Stats{Total: 1, Failed: 1},
		Failures: []Failure{{Test: "t", Message: "expected a function, got undefined"}},
	}, Options{Abbreviate: true})
	assert.Contains(t, out, "exp a fn, got undef")
}

func TestTruncateLongString(t *testing.T) {
	long := strings.Repeat("x", 80)
	out := Render(Bundle{
		Stats:    Stats{Total: 1, Failed: 1},
		Failures: []Failure{{Test: long}},
	}, Options{})
	assert.Contains(t, out, strings.Repeat("x", 50)+"…")
	assert.NotContains(t, out, strings.Repeat("x", 80))
}

func floatPtr(f float64) *float64 { return &f }
