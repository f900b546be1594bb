// Package simulation provides a stand-in for the GPU particle simulation. It
// receives the shared buffer through the producer binding and writes
// collision records the way the compute pass does: reserve a slot with the
// append counter, write the record if the slot fits, leave the overflowing
// count in the header.
package simulation

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
)

// Config controls the simulated collision rate.
type Config struct {
	// MaxPerStep is the upper bound of collisions produced per step. It may
	// exceed the buffer capacity.
	MaxPerStep int
	// StepInterval is the simulation step period used by Run.
	StepInterval time.Duration
	Seed         int64
}

// DefaultConfig produces up to 24 collisions per 60Hz step.
var DefaultConfig = Config{
	MaxPerStep:   24,
	StepInterval: time.Second / 60,
	Seed:         1,
}

// Producer implements gpubuffer.Binding and writes random collisions.
type Producer struct {
	mu       sync.Mutex
	buf      *gpubuffer.Buffer
	capacity uint32
	stride   uint32
	props    map[string]uint32

	rng    *rand.Rand
	config Config
	log    *zap.Logger
}

// New creates a producer. It writes nothing until a buffer is bound.
func New(config Config, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		props:  make(map[string]uint32),
		rng:    rand.New(rand.NewSource(config.Seed)),
		config: config,
		log:    log.With(zap.String("module", "simulation")),
	}
}

// SetBuffer binds the shared buffer handle.
func (p *Producer) SetBuffer(name string, buf *gpubuffer.Buffer) {
	if name != gpubuffer.PropertyBuffer {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = buf
}

// SetUint receives the capacity and stride scalars.
func (p *Producer) SetUint(name string, value uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[name] = value
	switch name {
	case gpubuffer.PropertyCapacity:
		p.capacity = value
	case gpubuffer.PropertyStride:
		p.stride = value
	}
}

// Property returns a published scalar.
func (p *Producer) Property(name string) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.props[name]
	return v, ok
}

// Step runs one simulation step and returns how many collisions it produced.
// Records past the published capacity are counted but not written.
func (p *Producer) Step() int {
	p.mu.Lock()
	buf, capacity, stride := p.buf, p.capacity, p.stride
	n := 0
	if p.config.MaxPerStep > 0 {
		n = p.rng.Intn(p.config.MaxPerStep + 1)
	}
	events := make([]collision.Event, n)
	for i := range events {
		events[i] = p.randomEvent()
	}
	p.mu.Unlock()

	if buf == nil || stride < gpubuffer.Stride {
		return 0
	}

	record := make([]uint32, stride)
	for _, ev := range events {
		slot, err := buf.AddCount(1)
		if err != nil {
			return 0
		}
		if slot > capacity {
			continue
		}
		collision.PutRecord(record, ev)
		base := gpubuffer.HeaderWords + int(slot-1)*int(stride)
		for i, w := range record {
			if err := buf.WriteWord(base+i, w); err != nil {
				// Buffer was reinitialized smaller under us; the next step sees the new capacity.
				break
			}
		}
	}
	return n
}

// Run steps the simulation every StepInterval until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	interval := p.config.StepInterval
	if interval <= 0 {
		interval = DefaultConfig.StepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("simulation started", zap.Duration("step", interval), zap.Int("max_per_step", p.config.MaxPerStep))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("simulation stopped")
			return nil
		case <-ticker.C:
			p.Step()
		}
	}
}

// randomEvent must be called with p.mu held.
func (p *Producer) randomEvent() collision.Event {
	r := p.rng
	theta := r.Float64() * 2 * math.Pi
	phi := r.Float64() * math.Pi / 2
	return collision.Event{
		Position: collision.Vector3{
			X: float32(r.Float64()*20 - 10),
			Y: 0,
			Z: float32(r.Float64()*20 - 10),
		},
		Normal: collision.Vector3{
			X: float32(math.Sin(phi) * math.Cos(theta)),
			Y: float32(math.Cos(phi)),
			Z: float32(math.Sin(phi) * math.Sin(theta)),
		},
		Color: collision.Color{R: r.Float32(), G: r.Float32(), B: r.Float32()},
	}
}
