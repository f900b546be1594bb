package gpubuffer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nmxmxh/collision-readback/pkg/errors"
)

const (
	// Stride is the number of 32-bit words per collision record:
	// position xyz, normal xyz, color rgb.
	Stride uint32 = 9
	// MaxCapacity bounds per-frame decode and side-effect cost.
	MaxCapacity uint32 = 64
	// HeaderWords is the number of leading words reserved for the live count.
	HeaderWords = 1
	// WordSize is the size of one buffer word in bytes.
	WordSize = 4
)

// Producer property names.
const (
	PropertyBuffer   = "CollisionBuffer"
	PropertyCapacity = "CollisionBufferCapacity"
	PropertyStride   = "CollisionBufferElementSize"
)

// Layout describes how records are laid out in a buffer allocation.
type Layout struct {
	Capacity uint32
	Stride   uint32
}

// NewLayout returns the layout for capacity records of the fixed stride.
func NewLayout(capacity uint32) (Layout, error) {
	if capacity > MaxCapacity {
		return Layout{}, fmt.Errorf("%w: %d > %d", errors.ErrCapacityOutOfRange, capacity, MaxCapacity)
	}
	return Layout{Capacity: capacity, Stride: Stride}, nil
}

// Words returns the total allocation size in words, header included.
func (l Layout) Words() int {
	return int(l.Capacity)*int(l.Stride) + HeaderWords
}

// RecordOffset returns the word offset of record i.
func (l Layout) RecordOffset(i uint32) int {
	return HeaderWords + int(i)*int(l.Stride)
}

// Clamp returns min(count, capacity).
func (l Layout) Clamp(count uint32) uint32 {
	if count > l.Capacity {
		return l.Capacity
	}
	return count
}

// FloatWord returns the raw word for a float32 record component.
func FloatWord(f float32) uint32 {
	return math.Float32bits(f)
}

// WordFloat reinterprets a raw word as a float32 record component.
func WordFloat(w uint32) float32 {
	return math.Float32frombits(w)
}

// EncodeWords serializes words as little-endian bytes, the producer/consumer wire format.
func EncodeWords(words []uint32) []byte {
	out := make([]byte, len(words)*WordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*WordSize:], w)
	}
	return out
}

// DecodeWords parses little-endian bytes into words.
func DecodeWords(raw []byte) ([]uint32, error) {
	if len(raw)%WordSize != 0 {
		return nil, fmt.Errorf("raw buffer length %d is not a multiple of %d", len(raw), WordSize)
	}
	words := make([]uint32, len(raw)/WordSize)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*WordSize:])
	}
	return words, nil
}
