package collision

import (
	"iter"

	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
)

// Frame is the decoded content of one readback payload.
type Frame struct {
	// Reported is the raw header value written by the producer.
	Reported uint32
	Events   []Event
}

// Truncated returns how many reported records were ignored because they
// exceeded the buffer capacity.
func (f Frame) Truncated() uint32 {
	if f.Reported <= uint32(len(f.Events)) {
		return 0
	}
	return f.Reported - uint32(len(f.Events))
}

// Decode reads the header of words and decodes min(count, capacity) records.
// Words past the last valid record are never read, and a short payload is
// clamped to the records it actually holds.
func Decode(words []uint32, layout gpubuffer.Layout) Frame {
	if len(words) < gpubuffer.HeaderWords {
		return Frame{}
	}
	frame := Frame{Reported: words[0]}
	n := effectiveCount(words, layout)
	if n == 0 {
		return frame
	}
	frame.Events = make([]Event, 0, n)
	for _, ev := range Records(words, layout) {
		frame.Events = append(frame.Events, ev)
	}
	return frame
}

// Records iterates the valid records of words in index order.
func Records(words []uint32, layout gpubuffer.Layout) iter.Seq2[int, Event] {
	return func(yield func(int, Event) bool) {
		n := effectiveCount(words, layout)
		for i := uint32(0); i < n; i++ {
			off := layout.RecordOffset(i)
			if !yield(int(i), decodeRecord(words[off:off+int(layout.Stride)])) {
				return
			}
		}
	}
}

func effectiveCount(words []uint32, layout gpubuffer.Layout) uint32 {
	if len(words) < gpubuffer.HeaderWords || layout.Stride < gpubuffer.Stride {
		return 0
	}
	n := layout.Clamp(words[0])
	if fit := uint32((len(words) - gpubuffer.HeaderWords) / int(layout.Stride)); n > fit {
		n = fit
	}
	return n
}

// decodeRecord expects at least gpubuffer.Stride words.
func decodeRecord(w []uint32) Event {
	f := gpubuffer.WordFloat
	return Event{
		Position: Vector3{X: f(w[0]), Y: f(w[1]), Z: f(w[2])},
		Normal:   Vector3{X: f(w[3]), Y: f(w[4]), Z: f(w[5])},
		Color:    Color{R: f(w[6]), G: f(w[7]), B: f(w[8])},
	}
}

// Encode writes events into a words slice laid out for layout, with the header
// set to reported. It mirrors what the producer writes and is used by the
// simulated producer and tests.
func Encode(layout gpubuffer.Layout, reported uint32, events []Event) []uint32 {
	words := make([]uint32, layout.Words())
	words[0] = reported
	for i, ev := range events {
		if uint32(i) >= layout.Capacity {
			break
		}
		PutRecord(words[layout.RecordOffset(uint32(i)):], ev)
	}
	return words
}

// PutRecord writes ev into the first gpubuffer.Stride words of dst.
func PutRecord(dst []uint32, ev Event) {
	w := gpubuffer.FloatWord
	dst[0], dst[1], dst[2] = w(ev.Position.X), w(ev.Position.Y), w(ev.Position.Z)
	dst[3], dst[4], dst[5] = w(ev.Normal.X), w(ev.Normal.Y), w(ev.Normal.Z)
	dst[6], dst[7], dst[8] = w(ev.Color.R), w(ev.Color.G), w(ev.Color.B)
}
