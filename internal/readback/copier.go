package readback

import (
	"sync"

	"github.com/nmxmxh/collision-readback/pkg/errors"
)

// CompleteFunc is invoked by a Copier once the host copy of a request is
// populated. It is the only place where readback work resumes after a tick.
type CompleteFunc func(*Request)

// Copier is the asynchronous copy subsystem. Submit must not call complete
// synchronously before returning.
type Copier interface {
	Submit(req *Request, complete CompleteFunc) error
}

// Advancer is implemented by copiers whose completions are driven by the
// frame loop rather than by their own goroutines.
type Advancer interface {
	Advance()
}

// FrameCopier completes copies a fixed number of frames after submission.
// Completions run on the goroutine calling Advance, which keeps them
// serialized with ticks. It models a GPU readback queue with frame latency.
type FrameCopier struct {
	mu      sync.Mutex
	latency int
	pending []frameCopy
	closed  bool
}

type frameCopy struct {
	req      *Request
	complete CompleteFunc
	frames   int
}

// NewFrameCopier creates a copier whose copies complete after latency calls
// to Advance. A latency below 1 is treated as 1.
func NewFrameCopier(latency int) *FrameCopier {
	if latency < 1 {
		latency = 1
	}
	return &FrameCopier{latency: latency}
}

// Submit queues req.
func (c *FrameCopier) Submit(req *Request, complete CompleteFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrCopierClosed
	}
	c.pending = append(c.pending, frameCopy{req: req, complete: complete, frames: c.latency})
	return nil
}

// Advance ages every queued copy by one frame and completes those that are due.
func (c *FrameCopier) Advance() {
	c.mu.Lock()
	var due []frameCopy
	kept := c.pending[:0]
	for _, p := range c.pending {
		p.frames--
		if p.frames <= 0 {
			due = append(due, p)
			continue
		}
		kept = append(kept, p)
	}
	c.pending = kept
	c.mu.Unlock()

	for _, p := range due {
		p.complete(p.req)
	}
}

// Flush completes every queued copy immediately.
func (c *FrameCopier) Flush() {
	c.mu.Lock()
	due := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, p := range due {
		p.complete(p.req)
	}
}

// Pending returns the number of queued copies.
func (c *FrameCopier) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects further submissions. Queued copies stay queued and may still
// be completed with Advance or Flush.
func (c *FrameCopier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
