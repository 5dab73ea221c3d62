package wrapper

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taist-dev/taist/internal/ctxstore"
	"github.com/taist-dev/taist/internal/filterconfig"
	"github.com/taist-dev/taist/internal/idgen"
	"github.com/taist-dev/taist/pkg/trace"
)

type recordingEmitter struct {
	mu      sync.Mutex
	records []trace.Record
}

func (e *recordingEmitter) Emit(r trace.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, r)
}

func (e *recordingEmitter) all() []trace.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]trace.Record, len(e.records))
	copy(out, e.records)
	return out
}

func newTestRuntime() (*Runtime, *recordingEmitter) {
	cfg := filterconfig.Default()
	emitter := &recordingEmitter{}
	return New(cfg, idgen.New(), emitter), emitter
}

func TestWrap_EmitsEnterThenExitOnSuccess(t *testing.T) {
	rt, emitter := newTestRuntime()

	result, err := rt.Wrap(context.Background(), "Calc.add", []any{1, 2}, func(ctx context.Context) (any, error) {
		return 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result)

	recs := emitter.all()
	require.Len(t, recs, 2)
	assert.Equal(t, trace.TypeEnter, recs[0].Type)
	assert.Equal(t, trace.TypeExit, recs[1].Type)
	assert.Equal(t, recs[0].ID, recs[1].ID)
	assert.Equal(t, "Calc.add", recs[0].Name)
}

func TestWrap_EmitsErrorAndRethrowsUnchanged(t *testing.T) {
	rt, emitter := newTestRuntime()
	sentinel := errors.New("boom")

	_, err := rt.Wrap(context.Background(), "Calc.fail", nil, func(ctx context.Context) (any, error) {
		return nil, sentinel
	})

	assert.Same(t, sentinel, err)

	recs := emitter.all()
	require.Len(t, recs, 2)
	assert.Equal(t, trace.TypeError, recs[1].Type)
	require.NotNil(t, recs[1].Error)
	assert.Equal(t, "boom", recs[1].Error.Message)
}

func TestWrap_NestedCallsIncrementDepthAndChainParent(t *testing.T) {
	rt, emitter := newTestRuntime()

	_, err := rt.Wrap(context.Background(), "outer", nil, func(ctx context.Context) (any, error) {
		return rt.Wrap(ctx, "inner", nil, func(ctx context.Context) (any, error) {
			return "ok", nil
		})
	})
	require.NoError(t, err)

	recs := emitter.all()
	require.Len(t, recs, 4)
	outerEnter, innerEnter := recs[0], recs[1]
	assert.Equal(t, 0, outerEnter.Depth)
	assert.Equal(t, 1, innerEnter.Depth)
	assert.Equal(t, outerEnter.ID, innerEnter.ParentID)
	assert.Equal(t, outerEnter.TraceID, innerEnter.TraceID)
}

func TestWrap_PassesThroughOnceDepthCapReached(t *testing.T) {
	rt, emitter := newTestRuntime()
	rt.cfg.Depth = 1

	ctx := ctxstore.WithFrame(context.Background(), trace.Frame{Depth: 1})
	called := false
	_, err := rt.Wrap(ctx, "tooDeep", nil, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, emitter.all())
}

func TestWrap_DisabledConfigIsNoOp(t *testing.T) {
	rt, emitter := newTestRuntime()
	rt.cfg.Enabled = false

	_, err := rt.Wrap(context.Background(), "anything", nil, func(ctx context.Context) (any, error) {
		return nil, nil
	})

	require.NoError(t, err)
	assert.Empty(t, emitter.all())
}

func TestWrap_SkipsEmissionForBlocklistedName(t *testing.T) {
	rt, emitter := newTestRuntime()

	_, err := rt.Wrap(context.Background(), "internal/reporter.flush", nil, func(ctx context.Context) (any, error) {
		return nil, nil
	})

	require.NoError(t, err)
	assert.Empty(t, emitter.all())
}

func TestWrap_SkipsEmissionForExcludedShortFunctionName(t *testing.T) {
	rt, emitter := newTestRuntime()
	rt.cfg.ExcludeNames = []string{"getUser"}
	called := false

	_, err := rt.Wrap(context.Background(), "handlers.Query.getUser", nil, func(ctx context.Context) (any, error) {
		called = true
		return "user", nil
	})

	require.NoError(t, err)
	assert.True(t, called, "the wrapped call still runs even when its record is excluded")
	assert.Empty(t, emitter.all())
}

type fakeFuture struct {
	mu         sync.Mutex
	onSuccess  func(any)
	onError    func(error)
}

func (f *fakeFuture) OnSettle(onSuccess func(any), onError func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSuccess = onSuccess
	f.onError = onError
}

func (f *fakeFuture) settle(v any) {
	f.mu.Lock()
	cb := f.onSuccess
	f.mu.Unlock()
	cb(v)
}

func TestWrap_FutureResultDefersExitUntilSettled(t *testing.T) {
	rt, emitter := newTestRuntime()
	future := &fakeFuture{}

	result, err := rt.Wrap(context.Background(), "Async.op", nil, func(ctx context.Context) (any, error) {
		return future, nil
	})
	require.NoError(t, err)
	assert.Same(t, future, result)

	recs := emitter.all()
	require.Len(t, recs, 1)
	assert.Equal(t, trace.TypeEnter, recs[0].Type)

	future.settle("done")

	recs = emitter.all()
	require.Len(t, recs, 2)
	assert.Equal(t, trace.TypeExit, recs[1].Type)
}
