// Package debugdraw turns collision events into short-lived debug line
// segments from the contact point along the surface normal.
package debugdraw

import (
	"sync"
	"time"

	"github.com/nmxmxh/collision-readback/internal/collision"
)

const (
	// NormalLength is the drawn length of a normal, in world units.
	NormalLength = 0.5
	// DefaultDuration is how long a line stays visible.
	DefaultDuration = time.Second
)

// Line is one visible debug segment.
type Line struct {
	From      collision.Vector3 `json:"from"`
	To        collision.Vector3 `json:"to"`
	Color     collision.Color   `json:"color"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Drawer collects debug lines. It implements collision.Consumer.
type Drawer struct {
	mu       sync.Mutex
	lines    []Line
	duration time.Duration
	now      func() time.Time
}

// Option configures a Drawer.
type Option func(*Drawer)

// WithDuration sets the line lifetime.
func WithDuration(d time.Duration) Option {
	return func(dr *Drawer) {
		if d > 0 {
			dr.duration = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(dr *Drawer) { dr.now = now }
}

func New(opts ...Option) *Drawer {
	d := &Drawer{duration: DefaultDuration, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnCollision adds a line from position to position + normal*NormalLength.
func (d *Drawer) OnCollision(position, normal collision.Vector3, color collision.Color) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, Line{
		From:      position,
		To:        position.Add(normal.Scale(NormalLength)),
		Color:     color,
		ExpiresAt: d.now().Add(d.duration),
	})
}

// Active returns the lines still visible at now.
func (d *Drawer) Active(now time.Time) []Line {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Line, 0, len(d.lines))
	for _, l := range d.lines {
		if now.Before(l.ExpiresAt) {
			out = append(out, l)
		}
	}
	return out
}

// Prune drops expired lines and returns how many were removed.
func (d *Drawer) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.lines[:0]
	for _, l := range d.lines {
		if now.Before(l.ExpiresAt) {
			kept = append(kept, l)
		}
	}
	removed := len(d.lines) - len(kept)
	clear(d.lines[len(kept):])
	d.lines = kept
	return removed
}

// Len returns the number of stored lines, expired or not.
func (d *Drawer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lines)
}
