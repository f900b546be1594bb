// Package redisstream appends decoded collision frames to a Redis stream so
// out-of-process consumers can react to them.
//
// Frames are queued without blocking the completion callback and published
// by Run. Each publish is retried with exponential backoff behind a circuit
// breaker; frames that still fail go to the dead-letter stream.
package redisstream

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	cb "github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/pkg/json"
	"github.com/nmxmxh/collision-readback/pkg/metrics"
	redisx "github.com/nmxmxh/collision-readback/pkg/redis"
)

const eventType = "collision.frame"

// Config controls publishing.
type Config struct {
	Stream       string        `yaml:"stream"`
	MaxLen       int64         `yaml:"max_len"`
	QueueSize    int           `yaml:"queue_size"`
	MaxRetries   uint64        `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// TripAfter opens the breaker after this many consecutive failures.
	TripAfter uint32 `yaml:"trip_after"`
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Stream:       "collisions",
		MaxLen:       10000,
		QueueSize:    64,
		MaxRetries:   3,
		RetryBackoff: 50 * time.Millisecond,
		TripAfter:    5,
		OpenTimeout:  30 * time.Second,
	}
}

// Counts summarizes publisher activity.
type Counts struct {
	Published  uint64
	Dropped    uint64
	DeadLetter uint64
}

// Sink is a frame observer publishing to Redis.
type Sink struct {
	client  redisx.StreamWriter
	cfg     Config
	queue   chan collision.Frame
	breaker *cb.CircuitBreaker
	log     *zap.Logger

	mu     sync.Mutex
	counts Counts
}

// New creates a sink. Call Run to start publishing.
func New(client redisx.StreamWriter, cfg Config, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = def.TripAfter
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	log = log.With(zap.String("sink", "redis"), zap.String("stream", cfg.Stream))

	s := &Sink{
		client: client,
		cfg:    cfg,
		queue:  make(chan collision.Frame, cfg.QueueSize),
		log:    log,
	}
	s.breaker = cb.NewCircuitBreaker(cb.Settings{
		Name:        "RedisCollisionStream",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
		OnStateChange: func(name string, from, to cb.State) {
			log.Warn("Circuit breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
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
		metrics.SinkEvents.WithLabelValues("redis", "dropped").Add(float64(len(frame.Events)))
		s.log.Warn("publish queue full, frame dropped", zap.Int("events", len(frame.Events)))
	}
}

// Run publishes queued frames until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.queue:
			s.publish(ctx, frame)
		}
	}
}

func (s *Sink) publish(ctx context.Context, frame collision.Frame) {
	events, err := json.Marshal(frame.Events)
	if err != nil {
		s.log.Error("failed to encode frame", zap.Error(err))
		return
	}
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Approx: true,
		MaxLen: s.cfg.MaxLen,
		Values: map[string]interface{}{
			"reported":  frame.Reported,
			"truncated": frame.Truncated(),
			"events":    string(events),
		},
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = s.cfg.RetryBackoff
		return nil, backoff.Retry(func() error {
			return s.client.XAdd(ctx, args).Err()
		}, backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxRetries), ctx))
	})
	if err == nil {
		s.mu.Lock()
		s.counts.Published++
		s.mu.Unlock()
		metrics.SinkEvents.WithLabelValues("redis", "sent").Add(float64(len(frame.Events)))
		return
	}

	s.log.Warn("frame publish failed", zap.Error(err), zap.String("breaker", s.breaker.State().String()))
	metrics.SinkEvents.WithLabelValues("redis", "failed").Add(float64(len(frame.Events)))
	if dlqErr := redisx.EmitToDLQ(ctx, s.client, s.log, eventType, string(events), err); dlqErr == nil {
		s.mu.Lock()
		s.counts.DeadLetter++
		s.mu.Unlock()
	}
}

// Counts returns publisher totals.
func (s *Sink) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// BreakerState returns the circuit breaker state.
func (s *Sink) BreakerState() cb.State {
	return s.breaker.State()
}
