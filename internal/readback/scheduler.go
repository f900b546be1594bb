// Package readback drives the asynchronous copy of the shared collision buffer
// back to the host.
//
// At most one copy is in flight. Each tick either skips (a copy is pending) or
// snapshots the buffer into a new Request, resets the count header and hands
// the request to a Copier. When the copier completes the request, the payload
// is decoded with the layout captured at issue time and dispatched to the
// registered consumers.
package readback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
	"github.com/nmxmxh/collision-readback/pkg/errors"
	"github.com/nmxmxh/collision-readback/pkg/metrics"
)

const tracerName = "github.com/nmxmxh/collision-readback/internal/readback"

// ResetPolicy selects when the count header is reset.
//
// The producer must never read the header as input; it only appends records
// and writes the true count. Under that contract ResetOnIssue is safe, but a
// producer write pass that starts before the reset lands is partially lost.
// ResetOnComplete waits for the copy to land and skips the reset if the
// buffer was reinitialized meanwhile; records written during the copy latency
// are dropped instead.
type ResetPolicy int

const (
	// ResetOnIssue resets the header in the same tick that issues the copy.
	ResetOnIssue ResetPolicy = iota
	// ResetOnComplete resets the header inside the completion callback.
	ResetOnComplete
)

func (p ResetPolicy) String() string {
	if p == ResetOnComplete {
		return "complete"
	}
	return "issue"
}

// ParseResetPolicy parses "issue" or "complete".
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "issue":
		return ResetOnIssue, nil
	case "complete":
		return ResetOnComplete, nil
	default:
		return ResetOnIssue, fmt.Errorf("%w: unknown reset policy %q", errors.ErrInvalidConfig, s)
	}
}

// Stats is a point-in-time copy of scheduler counters.
type Stats struct {
	Issued     uint64
	Completed  uint64
	Skipped    uint64
	Stale      uint64
	Failed     uint64
	Decoded    uint64
	Truncated  uint64
	Dispatches uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithResetPolicy sets the header reset policy.
func WithResetPolicy(p ResetPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithLogger sets the scheduler logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithFrameObserver registers a callback receiving every decoded frame after
// dispatch. It runs inside the completion callback.
func WithFrameObserver(fn func(collision.Frame)) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, fn) }
}

// Scheduler owns the single readback slot for one buffer.
type Scheduler struct {
	mu         sync.Mutex // serializes ticks and completions
	buf        *gpubuffer.Buffer
	copier     Copier
	dispatcher *collision.Dispatcher
	policy     ResetPolicy
	current    *Request
	stats      Stats
	observers  []func(collision.Frame)

	log    *zap.Logger
	tracer trace.Tracer
}

// New creates a scheduler reading buf through copier and dispatching to dispatcher.
func New(buf *gpubuffer.Buffer, copier Copier, dispatcher *collision.Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		buf:        buf,
		copier:     copier,
		dispatcher: dispatcher,
		policy:     ResetOnIssue,
		log:        zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("module", "readback"))
	return s
}

// Tick advances the readback cycle by one frame. If a copy is pending the
// tick is skipped. Otherwise a new copy is issued and, under ResetOnIssue, the
// header is reset. Tick returns ErrNotInitialized or ErrReleased (wrapped)
// when the buffer cannot be read; no request is issued in that case.
func (s *Scheduler) Tick(ctx context.Context) error {
	if adv, ok := s.copier.(Advancer); ok {
		adv.Advance()
	}

	s.mu.Lock()
	if s.current != nil && !s.current.Done() {
		s.stats.Skipped++
		s.mu.Unlock()
		metrics.ReadbackCycles.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}

	_, span := s.tracer.Start(ctx, "readback.issue")
	defer span.End()

	snap, err := s.buf.Snapshot()
	if err != nil {
		s.mu.Unlock()
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrap(err, "issue readback")
	}

	req := newRequest(snap, span.SpanContext())
	s.current = req
	if s.policy == ResetOnIssue {
		if err := s.buf.ResetHeader(); err != nil {
			s.log.Warn("header reset failed", zap.Error(err))
		}
	}
	s.stats.Issued++
	s.mu.Unlock()

	span.SetAttributes(
		attribute.String("readback.request_id", req.ID),
		attribute.Int("readback.capacity", int(req.Layout().Capacity)),
		attribute.Int64("readback.generation", int64(req.Generation())),
	)
	metrics.ReadbackCycles.WithLabelValues(metrics.OutcomeIssued).Inc()

	if err := s.copier.Submit(req, s.complete); err != nil {
		s.mu.Lock()
		if s.current == req {
			req.discard()
		}
		s.stats.Failed++
		s.mu.Unlock()
		metrics.ReadbackCycles.WithLabelValues(metrics.OutcomeFailed).Inc()
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrap(err, "submit readback")
	}
	return nil
}

// complete is the copier callback. It decodes and dispatches the payload, or
// does nothing if the buffer has been released since the request was issued.
func (s *Scheduler) complete(req *Request) {
	if !req.markDone() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := errors.WithRequestID(context.Background(), req.ID)
	_, span := s.tracer.Start(ctx, "readback.complete",
		trace.WithLinks(trace.Link{SpanContext: req.spanContext}),
		trace.WithAttributes(attribute.String("readback.request_id", req.ID)))
	defer span.End()

	metrics.ReadbackLatency.Observe(req.Latency().Seconds())

	if s.buf.Released() {
		req.discard()
		s.stats.Stale++
		metrics.ReadbackCycles.WithLabelValues(metrics.OutcomeStale).Inc()
		s.log.Debug("stale readback ignored", zap.String("request_id", req.ID))
		return
	}

	words, err := req.Words()
	if err != nil {
		s.stats.Failed++
		metrics.ReadbackCycles.WithLabelValues(metrics.OutcomeFailed).Inc()
		span.SetStatus(codes.Error, err.Error())
		_ = errors.LogWithError(ctx, s.log, "readback payload unavailable", err)
		return
	}

	start := time.Now()
	frame := collision.Decode(words, req.Layout())

	if s.policy == ResetOnComplete && s.buf.Generation() == req.Generation() {
		if err := s.buf.ResetHeader(); err != nil {
			s.log.Warn("header reset failed", zap.Error(err))
		}
	}

	if frame.Reported > 0 {
		s.log.Debug("collisions read back",
			zap.String("request_id", req.ID),
			zap.Uint32("count", frame.Reported),
			zap.Int("decoded", len(frame.Events)))
	}

	calls := s.dispatcher.Dispatch(frame.Events)
	for _, fn := range s.observers {
		fn(frame)
	}

	s.stats.Completed++
	s.stats.Decoded += uint64(len(frame.Events))
	s.stats.Truncated += uint64(frame.Truncated())
	s.stats.Dispatches += uint64(calls)

	metrics.ReadbackCycles.WithLabelValues(metrics.OutcomeCompleted).Inc()
	metrics.DecodedRecords.Add(float64(len(frame.Events)))
	metrics.TruncatedRecords.Add(float64(frame.Truncated()))
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("readback.reported", int(frame.Reported)),
		attribute.Int("readback.decoded", len(frame.Events)),
	)
}

// State returns the state of the readback slot.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return StateIdle
	}
	return s.current.State()
}

// Current returns the most recently issued request, or nil.
func (s *Scheduler) Current() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Policy returns the configured reset policy.
func (s *Scheduler) Policy() ResetPolicy {
	return s.policy
}
