package readback

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
	"github.com/nmxmxh/collision-readback/pkg/errors"
)

// State is the lifecycle state of the scheduler's readback slot.
type State int32

const (
	// StateIdle means no request has been issued yet.
	StateIdle State = iota
	// StatePending means a copy is in flight.
	StatePending
	// StateDone means the last copy completed; a new one may be issued.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Request is a handle to one asynchronous buffer copy. Its payload is a copy of
// the buffer taken when the request was issued, together with the layout and
// generation in force at that moment, so a reinitialized buffer never changes
// how a pending payload is decoded.
type Request struct {
	ID       string
	IssuedAt time.Time

	snapshot    gpubuffer.Snapshot
	spanContext trace.SpanContext
	state       atomic.Int32
	consumed    atomic.Bool
	completedAt atomic.Time
}

func newRequest(snap gpubuffer.Snapshot, sc trace.SpanContext) *Request {
	r := &Request{
		ID:          uuid.NewString(),
		IssuedAt:    time.Now(),
		snapshot:    snap,
		spanContext: sc,
	}
	r.state.Store(int32(StatePending))
	return r
}

// State returns StatePending or StateDone.
func (r *Request) State() State {
	return State(r.state.Load())
}

// Done reports whether the copy has completed.
func (r *Request) Done() bool {
	return r.State() == StateDone
}

// Layout returns the buffer layout captured at issue time.
func (r *Request) Layout() gpubuffer.Layout {
	return r.snapshot.Layout
}

// Generation returns the buffer generation captured at issue time.
func (r *Request) Generation() uint64 {
	return r.snapshot.Generation
}

// Latency returns the time between issue and completion, or 0 while pending.
func (r *Request) Latency() time.Duration {
	done := r.completedAt.Load()
	if done.IsZero() {
		return 0
	}
	return done.Sub(r.IssuedAt)
}

// Words returns the payload. It can be read exactly once, after completion.
func (r *Request) Words() ([]uint32, error) {
	if !r.Done() {
		return nil, errors.ErrRequestPending
	}
	if !r.consumed.CompareAndSwap(false, true) {
		return nil, errors.ErrPayloadConsumed
	}
	words := r.snapshot.Words
	r.snapshot.Words = nil
	return words, nil
}

// markDone transitions Pending to Done. It reports false if the request was
// already done.
func (r *Request) markDone() bool {
	if !r.state.CompareAndSwap(int32(StatePending), int32(StateDone)) {
		return false
	}
	r.completedAt.Store(time.Now())
	return true
}

// discard completes the request without exposing its payload.
func (r *Request) discard() {
	r.markDone()
	r.consumed.Store(true)
	r.snapshot.Words = nil
}
