package readback

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
	"github.com/nmxmxh/collision-readback/pkg/errors"
	"github.com/nmxmxh/collision-readback/pkg/metrics"
)

func testRequest(t *testing.T) *Request {
	t.Helper()
	layout, err := gpubuffer.NewLayout(1)
	require.NoError(t, err)
	return newRequest(gpubuffer.Snapshot{Words: make([]uint32, layout.Words()), Layout: layout, Generation: 1}, trace.SpanContext{})
}

func TestFrameCopier_Latency(t *testing.T) {
	c := NewFrameCopier(2)
	var completed []*Request
	complete := func(r *Request) { completed = append(completed, r) }

	first, second := testRequest(t), testRequest(t)
	require.NoError(t, c.Submit(first, complete))
	c.Advance()
	require.NoError(t, c.Submit(second, complete))
	assert.Equal(t, 2, c.Pending())
	assert.Empty(t, completed)

	c.Advance()
	assert.Equal(t, []*Request{first}, completed)
	c.Advance()
	assert.Equal(t, []*Request{first, second}, completed)
	assert.Zero(t, c.Pending())
}

func TestFrameCopier_MinimumLatency(t *testing.T) {
	c := NewFrameCopier(0)
	done := false
	require.NoError(t, c.Submit(testRequest(t), func(*Request) { done = true }))
	assert.False(t, done, "submit never completes synchronously")
	c.Advance()
	assert.True(t, done)
}

func TestFrameCopier_FlushAndClose(t *testing.T) {
	c := NewFrameCopier(10)
	n := 0
	require.NoError(t, c.Submit(testRequest(t), func(*Request) { n++ }))
	c.Close()
	assert.True(t, errors.Is(c.Submit(testRequest(t), func(*Request) { n++ }), errors.ErrCopierClosed))

	c.Flush()
	assert.Equal(t, 1, n)
	assert.Zero(t, c.Pending())
}

func TestPoolCopier_CompletesAfterLatency(t *testing.T) {
	p := NewPoolCopier(2, 5*time.Millisecond, nil)
	p.Start()
	defer p.Stop()

	done := make(chan *Request, 1)
	req := testRequest(t)
	submitted := time.Now()
	require.NoError(t, p.Submit(req, func(r *Request) { done <- r }))

	select {
	case got := <-done:
		assert.Same(t, req, got)
		assert.GreaterOrEqual(t, time.Since(submitted), 5*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("copy never completed")
	}
}

func TestPoolCopier_StopIsIdempotent(t *testing.T) {
	p := NewPoolCopier(1, 0, nil)
	p.Start()
	p.Stop()
	p.Stop()
	assert.True(t, errors.Is(p.Submit(testRequest(t), func(*Request) {}), errors.ErrCopierClosed))
}

func TestPoolCopier_StopLeavesNoActiveWorkers(t *testing.T) {
	gauge := metrics.CopyPoolGauges.WithLabelValues("readback", "active_workers")
	for i := 0; i < 50; i++ {
		p := NewPoolCopier(4, 0, nil)
		p.Start()
		assert.Equal(t, float64(4), testutil.ToFloat64(gauge))
		p.Stop()
		require.Equal(t, float64(0), testutil.ToFloat64(gauge), "iteration %d", i)
	}
}

func TestRequest_WordsReadOnce(t *testing.T) {
	req := testRequest(t)

	_, err := req.Words()
	assert.True(t, errors.Is(err, errors.ErrRequestPending))

	require.True(t, req.markDone())
	assert.False(t, req.markDone())
	assert.Equal(t, StateDone, req.State())

	words, err := req.Words()
	require.NoError(t, err)
	assert.Len(t, words, 10)

	_, err = req.Words()
	assert.True(t, errors.Is(err, errors.ErrPayloadConsumed))
	assert.NotEmpty(t, req.ID)
}
