// Package collision hosts the collision readback component: it owns the
// shared buffer and the readback scheduler, drives them from a frame loop and
// reacts to enable, disable and configuration changes.
package collision

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/internal/config"
	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
	"github.com/nmxmxh/collision-readback/internal/readback"
	"github.com/nmxmxh/collision-readback/pkg/errors"
	"github.com/nmxmxh/collision-readback/pkg/lifecycle"
)

// Name is the lifecycle resource name.
const Name = "collision-readback"

// Option configures a Service.
type Option func(*Service)

// WithBinding attaches the producer that receives the buffer on every initialize.
func WithBinding(b gpubuffer.Binding) Option {
	return func(s *Service) { s.binding = b }
}

// WithFrameObserver forwards every decoded frame to fn.
func WithFrameObserver(fn func(collision.Frame)) Option {
	return func(s *Service) { s.observers = append(s.observers, fn) }
}

// Service implements lifecycle.Resource.
type Service struct {
	log        *zap.Logger
	dispatcher *collision.Dispatcher
	binding    gpubuffer.Binding
	observers  []func(collision.Frame)

	mu          sync.Mutex
	cfg         config.Readback
	enabled     bool
	buf         *gpubuffer.Buffer
	sched       *readback.Scheduler
	frameCopier *readback.FrameCopier
	pool        *readback.PoolCopier
	retired     readback.Stats
	lastErr     error

	cancel   context.CancelFunc
	loopDone chan struct{}
	interval chan time.Duration
}

// New creates a disabled service. Call Start (or Enable) to allocate the buffer.
func New(cfg config.Readback, dispatcher *collision.Dispatcher, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		log:        log.With(zap.String("module", "collision_service")),
		dispatcher: dispatcher,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Name() string { return Name }

// Start enables the component and runs the frame loop until Stop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Enable(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.interval = make(chan time.Duration, 1)
	interval, done, rates := s.cfg.TickInterval(), s.loopDone, s.interval
	s.mu.Unlock()

	go s.run(loopCtx, interval, rates, done)
	return nil
}

// Stop disables the component.
func (s *Service) Stop(_ context.Context) error {
	s.OnDisable()
	return nil
}

// Health reports an error while disabled or after a failed tick.
func (s *Service) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return &lifecycle.HealthError{Resource: Name, Message: "disabled"}
	}
	if s.lastErr != nil {
		return &lifecycle.HealthError{Resource: Name, Message: s.lastErr.Error()}
	}
	return nil
}

// Enable allocates a fresh buffer and scheduler. A released buffer is never
// reused, so every enable starts a new buffer lifetime.
func (s *Service) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}

	policy, err := s.cfg.Policy()
	if err != nil {
		return err
	}

	buf := gpubuffer.New(s.binding, s.log)
	if err := buf.Initialize(s.cfg.Capacity); err != nil {
		return errors.Wrap(err, "enable collision readback")
	}

	var copier readback.Copier
	switch s.cfg.Copier {
	case config.CopierPool:
		s.pool = readback.NewPoolCopier(s.cfg.CopyWorkers, s.cfg.CopyLatency, s.log)
		s.pool.Start()
		copier = s.pool
	default:
		s.frameCopier = readback.NewFrameCopier(s.cfg.CopyLatencyFrames)
		copier = s.frameCopier
	}

	opts := []readback.Option{readback.WithResetPolicy(policy), readback.WithLogger(s.log)}
	for _, fn := range s.observers {
		opts = append(opts, readback.WithFrameObserver(fn))
	}

	s.buf = buf
	s.sched = readback.New(buf, copier, s.dispatcher, opts...)
	s.enabled = true
	s.lastErr = nil
	s.log.Info("collision readback enabled",
		zap.Uint32("capacity", s.cfg.Capacity),
		zap.String("reset_policy", policy.String()),
		zap.String("copier", s.cfg.Copier))
	return nil
}

// OnDisable stops the frame loop and releases the buffer exactly once.
// Copies still in flight complete as no-ops.
func (s *Service) OnDisable() {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone, s.interval = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	buf, sched, frameCopier, pool := s.buf, s.sched, s.frameCopier, s.pool
	s.frameCopier, s.pool = nil, nil
	s.mu.Unlock()

	if err := buf.Release(); err != nil {
		s.log.Warn("buffer release failed", zap.Error(err))
	}
	if frameCopier != nil {
		frameCopier.Close()
		frameCopier.Flush()
	}
	if pool != nil {
		pool.Stop()
	}

	s.mu.Lock()
	s.retired = addStats(s.retired, sched.Stats())
	s.mu.Unlock()
	s.log.Info("collision readback disabled")
}

// OnConfigurationChanged applies cfg. While enabled, the buffer is
// reinitialized with the new capacity; a copy already in flight still
// decodes with the layout it was issued with. Reset policy and copier
// changes take effect on the next enable.
func (s *Service) OnConfigurationChanged(cfg config.Readback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg
	if !s.enabled {
		return nil
	}
	if err := s.buf.Initialize(cfg.Capacity); err != nil {
		s.cfg.Capacity = prev.Capacity
		return errors.Wrap(err, "reconfigure collision readback")
	}
	if cfg.TickInterval() != prev.TickInterval() && s.interval != nil {
		select {
		case s.interval <- cfg.TickInterval():
		default:
		}
	}
	if cfg.ResetPolicy != prev.ResetPolicy || cfg.Copier != prev.Copier {
		s.log.Info("reset policy and copier changes apply on next enable")
	}
	s.log.Info("collision readback reconfigured", zap.Uint32("capacity", cfg.Capacity))
	return nil
}

// Tick runs one frame of the readback cycle.
func (s *Service) Tick(ctx context.Context) error {
	s.mu.Lock()
	sched := s.sched
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		return errors.ErrNotInitialized
	}

	err := sched.Tick(ctx)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// Stats returns counters accumulated over every enable cycle.
func (s *Service) Stats() readback.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return addStats(s.retired, s.sched.Stats())
	}
	return s.retired
}

// Buffer returns the current buffer, or nil before the first enable.
func (s *Service) Buffer() *gpubuffer.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

// Enabled reports whether the component is enabled.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Service) run(ctx context.Context, interval time.Duration, rates <-chan time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-rates:
			ticker.Reset(d)
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Debug("readback tick failed", zap.Error(err))
			}
		}
	}
}

func addStats(a, b readback.Stats) readback.Stats {
	return readback.Stats{
		Issued:     a.Issued + b.Issued,
		Completed:  a.Completed + b.Completed,
		Skipped:    a.Skipped + b.Skipped,
		Stale:      a.Stale + b.Stale,
		Failed:     a.Failed + b.Failed,
		Decoded:    a.Decoded + b.Decoded,
		Truncated:  a.Truncated + b.Truncated,
		Dispatches: a.Dispatches + b.Dispatches,
	}
}
