package audiocore

import (
	"math"
	"sync/atomic"
)

// Float32 is a float32 cell with atomic load and store, used for control
// values written by the control side and read inside the audio callback.
type Float32 struct {
	bits atomic.Uint32
}

// Load returns the current value
func (f *Float32) Load() float32 {
	return math.Float32frombits(f.bits.Load())
}

// Store replaces the value
func (f *Float32) Store(v float32) {
	f.bits.Store(math.Float32bits(v))
}

// Float64 is the float64 counterpart of Float32.
type Float64 struct {
	bits atomic.Uint64
}

// Load returns the current value
func (f *Float64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Store replaces the value
func (f *Float64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// CompareAndSwap stores v when the current value is bit-identical to old
func (f *Float64) CompareAndSwap(old, v float64) bool {
	return f.bits.CompareAndSwap(math.Float64bits(old), math.Float64bits(v))
}

// Add adds delta and returns the new value
func (f *Float64) Add(delta float64) float64 {
	for {
		old := f.Load()
		if f.CompareAndSwap(old, old+delta) {
			return old + delta
		}
	}
}
