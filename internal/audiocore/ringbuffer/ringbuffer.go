// Package ringbuffer implements the single-producer single-consumer frame
// ring that carries interleaved float32 audio from a non-real-time producer
// into the audio callback.
//
// The producer owns writePos and the consumer owns readPos. Both counters are
// monotonic and never reset; the arena is indexed modulo capacity. A side only
// ever advances its own counter, and only after the copy it guards is done, so
// 0 <= writePos-readPos <= capacity holds for every interleaving without locks.
package ringbuffer

import (
	"sync/atomic"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// RingBuffer is a lock-free SPSC ring of interleaved frames.
type RingBuffer struct {
	data     []float32
	capacity uint64
	channels int

	// written by the producer, read by both
	writePos atomic.Uint64
	_        [56]byte // keep the counters on separate cache lines
	// written by the consumer, read by both
	readPos atomic.Uint64
}

// New allocates a ring holding capacityFrames frames of the given channel count.
func New(capacityFrames, channels int) (*RingBuffer, error) {
	if capacityFrames <= 0 || channels <= 0 {
		return nil, errors.Newf("invalid ring buffer size: %d frames x %d channels", capacityFrames, channels).
			Component("ringbuffer").
			Category(errors.CategoryValidation).
			Build()
	}
	return &RingBuffer{
		data:     make([]float32, capacityFrames*channels),
		capacity: uint64(capacityFrames),
		channels: channels,
	}, nil
}

// Write appends as many whole frames from frames as fit and returns the
// number of frames written. It never blocks. Producer side only.
func (rb *RingBuffer) Write(frames []float32) int {
	n := uint64(len(frames) / rb.channels)
	w := rb.writePos.Load()
	r := rb.readPos.Load()
	n = min(n, rb.capacity-(w-r))
	if n == 0 {
		return 0
	}

	rb.copyIn(w%rb.capacity, frames[:int(n)*rb.channels])
	rb.writePos.Add(n)
	return int(n)
}

// Read fills dst with len(dst)/channels frames. When fewer frames are
// available dst is zeroed, the read position is left untouched and false is
// returned. Consumer side only; safe for the audio callback.
func (rb *RingBuffer) Read(dst []float32) bool {
	n := uint64(len(dst) / rb.channels)
	r := rb.readPos.Load()
	w := rb.writePos.Load()
	if w-r < n {
		clear(dst)
		return false
	}
	if n == 0 {
		return true
	}

	rb.copyOut(dst[:int(n)*rb.channels], r%rb.capacity)
	rb.readPos.Add(n)
	return true
}

// Skip discards up to n frames and returns the number discarded. Consumer side only.
func (rb *RingBuffer) Skip(n int) int {
	if n <= 0 {
		return 0
	}
	r := rb.readPos.Load()
	w := rb.writePos.Load()
	k := min(uint64(n), w-r)
	rb.readPos.Add(k)
	return int(k)
}

// Available returns the number of frames ready to read. From a third
// goroutine the answer is a snapshot and may be stale.
func (rb *RingBuffer) Available() int {
	return int(rb.fill())
}

// Free returns the number of frames that can be written.
func (rb *RingBuffer) Free() int {
	return int(rb.capacity - rb.fill())
}

// fill clamps w-r into [0, capacity] for observers that own neither counter.
func (rb *RingBuffer) fill() uint64 {
	w := rb.writePos.Load()
	r := rb.readPos.Load()
	if r > w {
		return 0
	}
	return min(w-r, rb.capacity)
}

// Capacity returns the ring size in frames.
func (rb *RingBuffer) Capacity() int {
	return int(rb.capacity)
}

// Channels returns the number of interleaved channels per frame.
func (rb *RingBuffer) Channels() int {
	return rb.channels
}

// Positions returns the raw write and read counters.
func (rb *RingBuffer) Positions() (w, r uint64) {
	return rb.writePos.Load(), rb.readPos.Load()
}

func (rb *RingBuffer) copyIn(start uint64, src []float32) {
	off := int(start) * rb.channels
	n := copy(rb.data[off:], src)
	if n < len(src) {
		copy(rb.data, src[n:])
	}
}

func (rb *RingBuffer) copyOut(dst []float32, start uint64) {
	off := int(start) * rb.channels
	n := copy(dst, rb.data[off:])
	if n < len(dst) {
		copy(dst[n:], rb.data)
	}
}
