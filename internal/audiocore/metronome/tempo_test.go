package metronome

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTempoMapAt(t *testing.T) {
	t.Parallel()

	t.Run("empty map is common time", func(t *testing.T) {
		t.Parallel()
		sig, idx := TempoMap(nil).At(500)
		assert.Equal(t, CommonTime, sig)
		assert.Equal(t, -1, idx)
	})

	t.Run("last entry at or before tick", func(t *testing.T) {
		t.Parallel()
		m := TempoMap{{Tick: 0, Numerator: 4, Denominator: 4}, {Tick: 96, Numerator: 3, Denominator: 4}, {Tick: 384, Numerator: 6, Denominator: 8}}
		sig, idx := m.At(95.9)
		assert.Equal(t, 0, idx)
		assert.Equal(t, 4, sig.Numerator)

		sig, idx = m.At(96)
		assert.Equal(t, 1, idx)
		assert.Equal(t, 3, sig.Numerator)

		_, idx = m.At(10000)
		assert.Equal(t, 2, idx)
	})

	t.Run("first entry effective from zero", func(t *testing.T) {
		t.Parallel()
		m := TempoMap{{Tick: 50, Numerator: 3, Denominator: 4}}
		sig, idx := m.At(10)
		assert.Equal(t, 0, idx)
		assert.Equal(t, int64(0), sig.Tick)
		assert.Equal(t, 3, sig.Numerator)
	})
}

func TestTempoMapSorted(t *testing.T) {
	t.Parallel()

	assert.True(t, TempoMap(nil).Sorted())
	assert.True(t, TempoMap{{Tick: 0}, {Tick: 0}, {Tick: 10}}.Sorted())
	assert.False(t, TempoMap{{Tick: 10}, {Tick: 0}}.Sorted())
}

func TestBeatTicks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ppq  int
		den  int
		want int64
	}{
		{"quarter", 96, 4, 96},
		{"eighth", 96, 8, 48},
		{"half", 96, 2, 192},
		{"odd denominator rounds", 96, 3, 128},
		{"zero denominator as quarter", 96, 0, 96},
		{"never below one", 1, 16, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BeatTicks(tt.ppq, TimeSignature{Numerator: 4, Denominator: tt.den}))
		})
	}
}

func TestClock(t *testing.T) {
	t.Parallel()

	c := NewClock(96, 500000)
	tick, running := c.Tick()
	assert.Zero(t, tick)
	assert.False(t, running)

	c.Advance(48000, 48000)
	tick, _ = c.Tick()
	assert.Zero(t, tick, "a stopped clock does not move")

	c.Start()
	c.Advance(48000, 48000)
	tick, running = c.Tick()
	assert.True(t, running)
	assert.InDelta(t, 192.0, tick, 1e-9, "one second at 120 BPM is two quarters")

	c.SetTempo(-1)
	c.SetTempo(0)
	assert.InDelta(t, 500000.0, c.Tempo(), 0)

	c.SetBPM(60)
	assert.InDelta(t, 1e6, c.Tempo(), 1e-6)

	c.Seek(1000)
	c.Advance(24000, 48000)
	tick, _ = c.Tick()
	assert.InDelta(t, 1048.0, tick, 1e-9)

	c.Seek(-5)
	tick, _ = c.Tick()
	assert.Zero(t, tick)

	c.SetPPQ(0)
	assert.Equal(t, 96, c.PPQ())
}

func TestClockSetPPQKeepsMusicalPosition(t *testing.T) {
	t.Parallel()

	c := NewClock(96, DefaultTempo)
	c.Seek(192) // beat 3 at 96 PPQ
	c.SetPPQ(480)
	tick, _ := c.Tick()
	assert.InDelta(t, 960.0, tick, 1e-9)

	c.SetPPQ(480)
	tick, _ = c.Tick()
	assert.InDelta(t, 960.0, tick, 1e-9, "same resolution leaves the position alone")

	c.SetPPQ(24)
	tick, _ = c.Tick()
	assert.InDelta(t, 48.0, tick, 1e-9)
}

func TestTickSpan(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 48.0, TickSpan(12000, 48000, 500000, 96), 1e-12)
	assert.Zero(t, TickSpan(128, 0, 500000, 96))
	assert.Zero(t, TickSpan(128, 48000, 0, 96))
}
