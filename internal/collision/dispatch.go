package collision

import (
	"sync"

	"go.uber.org/zap"
)

// Dispatcher fans decoded events out to registered consumers. For each event,
// in index order, every consumer is invoked in registration order.
type Dispatcher struct {
	mu        sync.RWMutex
	consumers []namedConsumer
	log       *zap.Logger
}

type namedConsumer struct {
	name string
	c    Consumer
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log.With(zap.String("module", "dispatcher"))}
}

// Register adds a consumer under name.
func (d *Dispatcher) Register(name string, c Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers = append(d.consumers, namedConsumer{name: name, c: c})
}

// Len returns the number of registered consumers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.consumers)
}

// Dispatch delivers events and returns the number of consumer calls made.
// A panicking consumer is logged and skipped; it does not stop the frame.
func (d *Dispatcher) Dispatch(events []Event) int {
	if len(events) == 0 {
		return 0
	}
	d.mu.RLock()
	consumers := make([]namedConsumer, len(d.consumers))
	copy(consumers, d.consumers)
	d.mu.RUnlock()

	calls := 0
	for i := range events {
		for _, nc := range consumers {
			if d.invoke(nc, events[i]) {
				calls++
			}
		}
	}
	return calls
}

func (d *Dispatcher) invoke(nc namedConsumer, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("consumer panic recovered", zap.String("consumer", nc.name), zap.Any("panic", r))
			ok = false
		}
	}()
	nc.c.OnCollision(ev.Position, ev.Normal, ev.Color)
	return true
}
