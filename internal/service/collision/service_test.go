package collision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/internal/config"
	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
	"github.com/nmxmxh/collision-readback/internal/simulation"
	"github.com/nmxmxh/collision-readback/pkg/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []collision.Event
}

func (r *recorder) OnCollision(p, n collision.Vector3, c collision.Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, collision.Event{Position: p, Normal: n, Color: c})
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testConfig(capacity uint32) config.Readback {
	cfg := config.Default().Readback
	cfg.Capacity = capacity
	cfg.CopyLatencyFrames = 1
	return cfg
}

func newService(t *testing.T, cfg config.Readback, opts ...Option) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	d := collision.NewDispatcher(nil)
	d.Register("recorder", rec)
	return New(cfg, d, nil, opts...), rec
}

func write(t *testing.T, buf *gpubuffer.Buffer, reported uint32, events ...collision.Event) {
	t.Helper()
	layout, err := buf.Layout()
	require.NoError(t, err)
	for i, w := range collision.Encode(layout, reported, events) {
		require.NoError(t, buf.WriteWord(i, w))
	}
}

var hit = collision.Event{
	Position: collision.Vector3{X: 1, Y: 2, Z: 3},
	Normal:   collision.Vector3{Y: 1},
	Color:    collision.Color{R: 1},
}

func TestService_EnableAndTick(t *testing.T) {
	p := simulation.New(simulation.Config{}, nil)
	s, rec := newService(t, testConfig(4), WithBinding(p))

	assert.Error(t, s.Health(), "disabled before enable")
	require.NoError(t, s.Enable())
	require.NoError(t, s.Health())

	capacity, ok := p.Property(gpubuffer.PropertyCapacity)
	require.True(t, ok)
	assert.Equal(t, uint32(4), capacity)

	write(t, s.Buffer(), 1, hit)
	require.NoError(t, s.Tick(context.Background()))
	assert.Zero(t, rec.len())
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 1, rec.len())

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Issued)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestService_ConfigurationChangedMidFlight(t *testing.T) {
	var frames []collision.Frame
	s, rec := newService(t, testConfig(2), WithFrameObserver(func(f collision.Frame) { frames = append(frames, f) }))
	require.NoError(t, s.Enable())

	write(t, s.Buffer(), 2, hit, hit)
	require.NoError(t, s.Tick(context.Background()))

	require.NoError(t, s.OnConfigurationChanged(testConfig(8)))
	layout, err := s.Buffer().Layout()
	require.NoError(t, err)
	assert.Equal(t, uint32(8), layout.Capacity)

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 2, rec.len(), "pending payload decodes with its issue-time layout")
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(2), frames[0].Reported)
}

func TestService_ConfigurationChangedInvalid(t *testing.T) {
	s, _ := newService(t, testConfig(2))
	require.NoError(t, s.Enable())

	err := s.OnConfigurationChanged(testConfig(gpubuffer.MaxCapacity + 1))
	assert.True(t, errors.Is(err, errors.ErrCapacityOutOfRange))

	layout, err := s.Buffer().Layout()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), layout.Capacity)
}

func TestService_ConfigurationChangedWhileDisabled(t *testing.T) {
	s, _ := newService(t, testConfig(2))
	require.NoError(t, s.OnConfigurationChanged(testConfig(6)))
	assert.Nil(t, s.Buffer())

	require.NoError(t, s.Enable())
	layout, err := s.Buffer().Layout()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), layout.Capacity)
}

func TestService_DisableReleasesOnce(t *testing.T) {
	s, rec := newService(t, testConfig(2))
	require.NoError(t, s.Enable())
	buf := s.Buffer()

	write(t, buf, 1, hit)
	require.NoError(t, s.Tick(context.Background()))

	s.OnDisable()
	s.OnDisable()

	assert.True(t, buf.Released())
	assert.False(t, s.Enabled())
	assert.Zero(t, rec.len(), "pending copy completes as a no-op")
	assert.Equal(t, uint64(1), s.Stats().Stale)
	assert.Error(t, s.Health())
	assert.True(t, errors.Is(s.Tick(context.Background()), errors.ErrNotInitialized))
}

func TestService_ReenableUsesFreshBuffer(t *testing.T) {
	s, rec := newService(t, testConfig(2))
	require.NoError(t, s.Enable())
	first := s.Buffer()
	write(t, first, 1, hit)
	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))
	s.OnDisable()

	require.NoError(t, s.Enable())
	second := s.Buffer()
	assert.NotSame(t, first, second)
	assert.False(t, second.Released())

	write(t, second, 1, hit)
	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, 2, rec.len())
	assert.Equal(t, uint64(2), s.Stats().Completed, "stats accumulate across enable cycles")
}

func TestService_InvalidResetPolicy(t *testing.T) {
	cfg := testConfig(2)
	cfg.ResetPolicy = "sometimes"
	s, _ := newService(t, cfg)
	assert.True(t, errors.Is(s.Enable(), errors.ErrInvalidConfig))
	assert.False(t, s.Enabled())
}

func TestService_StartStopWithProducer(t *testing.T) {
	cfg := testConfig(16)
	cfg.FrameRate = 500
	p := simulation.New(simulation.Config{MaxPerStep: 8, Seed: 7}, nil)
	s, rec := newService(t, cfg, WithBinding(p))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				p.Step()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	assert.Eventually(t, func() bool { return rec.len() > 0 }, 2*time.Second, 5*time.Millisecond)
	close(stop)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Enabled())
	assert.Positive(t, s.Stats().Completed)
}

func TestService_PoolCopier(t *testing.T) {
	cfg := testConfig(4)
	cfg.Copier = config.CopierPool
	cfg.CopyWorkers = 1
	cfg.CopyLatency = time.Millisecond
	s, rec := newService(t, cfg)
	require.NoError(t, s.Enable())
	defer s.OnDisable()

	write(t, s.Buffer(), 1, hit)
	require.NoError(t, s.Tick(context.Background()))
	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 2*time.Millisecond)
}
