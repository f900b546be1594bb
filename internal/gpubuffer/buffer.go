// Package gpubuffer owns the raw collision buffer shared between the particle
// simulation (producer) and the host readback path (consumer).
//
// Word 0 holds the live record count; records follow at a fixed stride. The
// producer and the host both write to the buffer without coordination: the
// producer writes records and the true count, the host writes 0 to the header
// when it starts a new readback cycle. Every word is accessed atomically and the
// last writer wins. Readers never trust the header beyond the capacity.
package gpubuffer

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/pkg/errors"
	"github.com/nmxmxh/collision-readback/pkg/metrics"
)

// Binding is the producer's configuration surface. The producer receives a
// non-owning handle to the buffer plus the capacity and stride scalars.
type Binding interface {
	SetBuffer(name string, buf *Buffer)
	SetUint(name string, value uint32)
}

// allocation is one sized block of buffer words. A new allocation replaces the
// old one on every Initialize so in-flight readers keep a consistent view.
type allocation struct {
	words      []atomic.Uint32
	layout     Layout
	generation uint64
}

// Buffer is the shared raw buffer. Lifecycle calls (Initialize, Release) are
// made by the owning component only; word access is safe from any goroutine.
type Buffer struct {
	mu         sync.Mutex // serializes Initialize and Release
	alloc      atomic.Pointer[allocation]
	released   atomic.Bool
	generation uint64

	binding Binding
	log     *zap.Logger
}

// Snapshot is a host copy of the buffer taken at a single point in time.
type Snapshot struct {
	Words      []uint32
	Layout     Layout
	Generation uint64
}

// New creates an unallocated buffer. binding may be nil when no producer is attached.
func New(binding Binding, log *zap.Logger) *Buffer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Buffer{
		binding: binding,
		log:     log.With(zap.String("module", "gpubuffer")),
	}
}

// Initialize (re)allocates storage for capacity records, zeroes the header and
// publishes the buffer handle, capacity and stride to the producer.
func (b *Buffer) Initialize(capacity uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released.Load() {
		return errors.ErrReleased
	}
	layout, err := NewLayout(capacity)
	if err != nil {
		return err
	}

	if prev := b.alloc.Load(); prev != nil {
		b.log.Debug("releasing previous allocation",
			zap.Uint64("generation", prev.generation),
			zap.Uint32("capacity", prev.layout.Capacity))
	}

	b.generation++
	next := &allocation{
		words:      make([]atomic.Uint32, layout.Words()),
		layout:     layout,
		generation: b.generation,
	}
	next.words[0].Store(0)
	b.alloc.Store(next)

	if b.binding != nil {
		b.binding.SetBuffer(PropertyBuffer, b)
		b.binding.SetUint(PropertyCapacity, layout.Capacity)
		b.binding.SetUint(PropertyStride, layout.Stride)
	}
	metrics.BufferCapacity.Set(float64(layout.Capacity))

	b.log.Debug("buffer initialized",
		zap.Uint32("capacity", layout.Capacity),
		zap.Int("words", layout.Words()),
		zap.Uint64("generation", next.generation))
	return nil
}

// ResetHeader writes 0 to the count header. It does not wait for, or touch,
// any in-flight copy.
func (b *Buffer) ResetHeader() error {
	a, err := b.current()
	if err != nil {
		return err
	}
	a.words[0].Store(0)
	return nil
}

// Release deallocates storage. A released buffer rejects all further use.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released.Load() {
		return errors.ErrReleased
	}
	b.released.Store(true)
	b.alloc.Store(nil)
	b.log.Debug("buffer released", zap.Uint64("generation", b.generation))
	return nil
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b.released.Load()
}

// Initialized reports whether the buffer currently holds an allocation.
func (b *Buffer) Initialized() bool {
	return b.alloc.Load() != nil
}

// Layout returns the layout of the current allocation.
func (b *Buffer) Layout() (Layout, error) {
	a, err := b.current()
	if err != nil {
		return Layout{}, err
	}
	return a.layout, nil
}

// Generation returns the generation of the current allocation, or 0 if none.
func (b *Buffer) Generation() uint64 {
	if a := b.alloc.Load(); a != nil {
		return a.generation
	}
	return 0
}

// Snapshot copies every word of the current allocation.
func (b *Buffer) Snapshot() (Snapshot, error) {
	a, err := b.current()
	if err != nil {
		return Snapshot{}, err
	}
	words := make([]uint32, len(a.words))
	for i := range a.words {
		words[i] = a.words[i].Load()
	}
	return Snapshot{Words: words, Layout: a.layout, Generation: a.generation}, nil
}

// WriteWord stores value at offset. Producer writes land here.
func (b *Buffer) WriteWord(offset int, value uint32) error {
	a, err := b.current()
	if err != nil {
		return err
	}
	if offset < 0 || offset >= len(a.words) {
		return fmt.Errorf("%w: %d not in [0,%d)", errors.ErrOutOfBounds, offset, len(a.words))
	}
	a.words[offset].Store(value)
	return nil
}

// ReadWord loads the word at offset.
func (b *Buffer) ReadWord(offset int) (uint32, error) {
	a, err := b.current()
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset >= len(a.words) {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", errors.ErrOutOfBounds, offset, len(a.words))
	}
	return a.words[offset].Load(), nil
}

// AddCount atomically adds delta to the header and returns the new count.
// Producers use it to reserve record slots the way a GPU append counter does.
func (b *Buffer) AddCount(delta uint32) (uint32, error) {
	a, err := b.current()
	if err != nil {
		return 0, err
	}
	return a.words[0].Add(delta), nil
}

func (b *Buffer) current() (*allocation, error) {
	if b.released.Load() {
		return nil, errors.ErrReleased
	}
	a := b.alloc.Load()
	if a == nil {
		return nil, errors.ErrNotInitialized
	}
	return a, nil
}
