// Package stream publishes decoded collision frames to WebSocket clients.
//
// ObserveFrame runs inside the readback completion callback, so it only
// queues; Run performs the broadcast.
package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/pkg/metrics"
)

// EventType is the message type of a published frame.
const EventType = "collision.frame"

// DefaultQueueSize is the number of frames buffered ahead of Run.
const DefaultQueueSize = 16

// Broadcaster is satisfied by *ws.Manager.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{}) error
}

// FramePayload is the JSON body of one published frame.
type FramePayload struct {
	Reported  uint32            `json:"reported"`
	Truncated uint32            `json:"truncated"`
	Events    []collision.Event `json:"events"`
	SentAt    time.Time         `json:"sent_at"`
}

// Counts summarizes stream activity in frames.
type Counts struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithQueueSize sets the frame queue length.
func WithQueueSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan collision.Frame, n)
		}
	}
}

// Sink is a frame observer. Empty frames are not published.
type Sink struct {
	out   Broadcaster
	queue chan collision.Frame
	log   *zap.Logger

	mu     sync.Mutex
	counts Counts
}

// New creates a sink. Call Run to start publishing.
func New(out Broadcaster, log *zap.Logger, opts ...Option) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sink{
		out:   out,
		queue: make(chan collision.Frame, DefaultQueueSize),
		log:   log.With(zap.String("sink", "stream")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObserveFrame queues a non-empty frame. A full queue drops the frame.
func (s *Sink) ObserveFrame(frame collision.Frame) {
	if len(frame.Events) == 0 {
		return
	}
	select {
	case s.queue <- frame:
	default:
		s.mu.Lock()
		s.counts.Dropped++
		s.mu.Unlock()
		metrics.SinkEvents.WithLabelValues("stream", "dropped").Add(float64(len(frame.Events)))
		s.log.Warn("stream queue full, frame dropped", zap.Int("events", len(frame.Events)))
	}
}

// Run broadcasts queued frames until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.queue:
			s.publish(frame)
		}
	}
}

// Counts returns a copy of the stream counters.
func (s *Sink) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

func (s *Sink) publish(frame collision.Frame) {
	err := s.out.Broadcast(EventType, FramePayload{
		Reported:  frame.Reported,
		Truncated: frame.Truncated(),
		Events:    frame.Events,
		SentAt:    time.Now().UTC(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.counts.Failed++
		metrics.SinkEvents.WithLabelValues("stream", "failed").Add(float64(len(frame.Events)))
		s.log.Warn("frame broadcast failed", zap.Error(err))
		return
	}
	s.counts.Sent++
	metrics.SinkEvents.WithLabelValues("stream", "sent").Add(float64(len(frame.Events)))
}
