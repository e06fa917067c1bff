package metronome

import (
	"math"
	"sync/atomic"

	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
)

// DefaultTempo is 120 BPM in microseconds per quarter note.
const DefaultTempo = 500000.0

// Transport supplies the sequencer position the metronome follows.
type Transport interface {
	// Tick returns the current position in ticks and whether the transport
	// is running.
	Tick() (float64, bool)
	// Tempo returns microseconds per quarter note.
	Tempo() float64
}

// Clock is a free-running Transport advanced by the audio callback after
// every rendered block. Seek and tempo changes may come from any goroutine.
type Clock struct {
	tick    audiocore.Float64
	tempo   audiocore.Float64
	ppq     atomic.Int64
	running atomic.Bool
}

// NewClock returns a stopped clock at tick 0.
func NewClock(ppq int, usPerQuarter float64) *Clock {
	c := &Clock{}
	c.tempo.Store(DefaultTempo)
	c.ppq.Store(96)
	c.SetPPQ(ppq)
	c.SetTempo(usPerQuarter)
	return c
}

// Tick implements Transport
func (c *Clock) Tick() (float64, bool) {
	return c.tick.Load(), c.running.Load()
}

// Tempo implements Transport
func (c *Clock) Tempo() float64 {
	return c.tempo.Load()
}

// PPQ returns the ticks per quarter note the clock counts in
func (c *Clock) PPQ() int {
	return int(c.ppq.Load())
}

// SetTempo changes the tempo. Non-positive or non-finite values are ignored.
func (c *Clock) SetTempo(usPerQuarter float64) {
	if usPerQuarter > 0 && !math.IsInf(usPerQuarter, 0) && !math.IsNaN(usPerQuarter) {
		c.tempo.Store(usPerQuarter)
	}
}

// SetBPM sets the tempo in quarter notes per minute.
func (c *Clock) SetBPM(bpm float64) {
	if bpm > 0 {
		c.SetTempo(60e6 / bpm)
	}
}

// SetPPQ changes the tick resolution; values below 1 are ignored. The
// position is rescaled so it stays on the same musical time.
func (c *Clock) SetPPQ(ppq int) {
	if ppq <= 0 {
		return
	}
	old := c.ppq.Swap(int64(ppq))
	if old == int64(ppq) || old <= 0 {
		return
	}
	scale := float64(ppq) / float64(old)
	for {
		tick := c.tick.Load()
		if c.tick.CompareAndSwap(tick, tick*scale) {
			return
		}
	}
}

// Seek moves the clock to tick.
func (c *Clock) Seek(tick float64) {
	c.tick.Store(max(0, tick))
}

// Start resumes advancing
func (c *Clock) Start() { c.running.Store(true) }

// Stop freezes the position
func (c *Clock) Stop() { c.running.Store(false) }

// Advance moves a running clock forward by the ticks spanned by frames at
// sampleRate. A Seek racing with Advance is never lost.
func (c *Clock) Advance(frames, sampleRate int) {
	if !c.running.Load() || sampleRate <= 0 {
		return
	}
	c.tick.Add(TickSpan(frames, sampleRate, c.tempo.Load(), c.PPQ()))
}

// TickSpan converts a block of frames to ticks.
func TickSpan(frames, sampleRate int, usPerQuarter float64, ppq int) float64 {
	if sampleRate <= 0 || usPerQuarter <= 0 {
		return 0
	}
	return float64(frames) / float64(sampleRate) * 1e6 / usPerQuarter * float64(ppq)
}

var _ Transport = (*Clock)(nil)
