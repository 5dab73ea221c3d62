package sanitize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValue_TruncatesLongStrings(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := Value(long, DefaultLimits())
	s, ok := got.(string)
	assert.True(t, ok)
	assert.LessOrEqual(t, len([]rune(s)), 51) // 50 chars + ellipsis marker
}

func TestValue_ArrayPreviewWithMoreMarker(t *testing.T) {
	items := []any{1, 2, 3, 4, 5, 6, 7, 8}
	got := Value(items, DefaultLimits())
	arr, ok := got.([]any)
	assert.True(t, ok)
	assert.Equal(t, DefaultLimits().MaxArrayLen+1, len(arr))
	assert.Equal(t, "+3 more", arr[len(arr)-1])
}

func TestValue_ObjectPreviewWithMoreMarker(t *testing.T) {
	m := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6}
	got := Value(m, DefaultLimits())
	obj, ok := got.(map[string]any)
	assert.True(t, ok)
	_, hasMarker := obj["…"]
	assert.True(t, hasMarker)
	assert.LessOrEqual(t, len(obj), DefaultLimits().MaxObjectLen+1)
}

func TestValue_DepthCapCollapsesNested(t *testing.T) {
	nested := map[string]any{
		"l1": map[string]any{
			"l2": map[string]any{
				"l3": map[string]any{"x": 1},
			},
		},
	}
	got := Value(nested, Limits{MaxDepth: 2, MaxStringLen: 50, MaxArrayLen: 5, MaxObjectLen: 5})
	top, ok := got.(map[string]any)
	assert.True(t, ok)
	l1, ok := top["l1"].(map[string]any)
	assert.True(t, ok)
	// l2 is at depth 2, the cap, so it must collapse instead of being walked.
	assert.Equal(t, "[Object]", l1["l2"])
}

func TestValue_FunctionBecomesMarker(t *testing.T) {
	fn := func() {}
	got := Value(fn, DefaultLimits())
	s, ok := got.(string)
	assert.True(t, ok)
	assert.Contains(t, s, "[Function:")
}

func TestValue_ErrorCapturesNameMessageAndStack(t *testing.T) {
	err := errors.New("boom")
	got := Value(err, DefaultLimits())
	m, ok := got.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "boom", m["message"])
	stack, ok := m["stack"].([]string)
	assert.True(t, ok)
	assert.LessOrEqual(t, len(stack), 2)
}

func TestValue_TimeBecomesISOString(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := Value(now, DefaultLimits())
	assert.Equal(t, "2026-01-02T03:04:05Z", got)
}

func TestValues_SanitizesEachPositionally(t *testing.T) {
	got := Values([]any{1, "two", 3.0}, DefaultLimits())
	assert.Len(t, got, 3)
}
