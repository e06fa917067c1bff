package mixer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T { return &v }

func stereo(frames int, l, r float32) []float32 {
	out := make([]float32, 2*frames)
	for i := range frames {
		out[2*i] = l
		out[2*i+1] = r
	}
	return out
}

func TestMeterInterval(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 800, MeterInterval(48000, 60, 128))
	assert.Equal(t, 735, MeterInterval(44100, 60, 128))
	assert.Equal(t, 128, MeterInterval(4000, 60, 128))
	assert.Equal(t, 800, MeterInterval(48000, 0, 128), "zero rate falls back to 60 Hz")
	assert.Equal(t, 800, New(48000).Interval())
}

func TestConfigureResetsTracks(t *testing.T) {
	t.Parallel()

	m := New(48000)
	require.NoError(t, m.Configure(3))
	assert.Equal(t, 3, m.Tracks())

	require.True(t, m.SetTrack(TrackUpdate{Index: 1, Left: ptr[float32](0.5), Mute: ptr(true)}))

	require.NoError(t, m.Configure(2))
	a := m.arena.Load()
	for i := range a.tracks {
		assert.InDelta(t, 1.0, a.tracks[i].left.Load(), 0)
		assert.InDelta(t, 1.0, a.tracks[i].right.Load(), 0)
		assert.False(t, a.tracks[i].mute.Load())
	}

	require.Error(t, m.Configure(0))
	require.Error(t, m.Configure(MaxTracks+1))
	assert.Equal(t, 2, m.Tracks(), "rejected configure keeps the arena")
}

func TestSetTrackIgnoresOutOfRange(t *testing.T) {
	t.Parallel()

	m := New(48000, WithTracks(2))
	assert.False(t, m.SetTrack(TrackUpdate{Index: -1, Left: ptr[float32](0)}))
	assert.False(t, m.SetTrack(TrackUpdate{Index: 2, Left: ptr[float32](0)}))
	assert.True(t, m.SetTrack(TrackUpdate{Index: 1}))
}

func TestProcessSumsWithGains(t *testing.T) {
	t.Parallel()

	m := New(48000, WithTracks(3))
	m.SetTrack(TrackUpdate{Index: 0, Left: ptr[float32](0.5), Right: ptr[float32](2)})
	m.SetTrack(TrackUpdate{Index: 2, Mute: ptr(true)})

	const n = 4
	outL := []float32{9, 9, 9, 9}
	outR := make([]float32, n)
	m.Process([][]float32{
		stereo(n, 0.2, 0.1),
		stereo(n, 0.1, -0.1),
		stereo(n, 1, 1),
	}, outL, outR)

	for j := range n {
		assert.InDelta(t, 0.2*0.5+0.1, outL[j], 1e-6)
		assert.InDelta(t, 0.1*2-0.1, outR[j], 1e-6)
	}
	assert.Zero(t, m.arena.Load().tracks[2].meter)
}

func TestProcessTreatsShortInputsAsSilence(t *testing.T) {
	t.Parallel()

	m := New(48000, WithTracks(2))
	outL := make([]float32, 8)
	outR := make([]float32, 8)
	m.Process([][]float32{stereo(2, 1, 1)}, outL, outR)

	assert.Equal(t, make([]float32, 8), outL)
	assert.Equal(t, make([]float32, 8), outR)
}

func TestEnvelopeAttackAndRelease(t *testing.T) {
	t.Parallel()

	m := New(48000)
	outL := make([]float32, 1)
	outR := make([]float32, 1)
	tr := &m.arena.Load().tracks[0]

	m.Process([][]float32{{1, 1}}, outL, outR)
	// hp = 0.97, lp = 0.35*0.97
	assert.InDelta(t, 0.3395, tr.meter, 1e-6)

	m.Process([][]float32{{0, 0}}, outL, outR)
	// block peak 0.21049 is below the meter, so it decays
	assert.InDelta(t, 0.3395*0.985, tr.meter, 1e-6)

	for range 2000 {
		m.Process([][]float32{{0, 0}}, outL, outR)
	}
	assert.Zero(t, tr.meter, "meter snaps to zero below 1e-4")
}

func TestEnvelopeRejectsDC(t *testing.T) {
	t.Parallel()

	m := New(48000)
	const n = 256
	outL := make([]float32, n)
	outR := make([]float32, n)
	in := stereo(n, 0.8, 0.8)
	for range 1000 {
		m.Process([][]float32{in}, outL, outR)
	}
	assert.Zero(t, m.arena.Load().tracks[0].meter, "constant input has no envelope after settling")
}

func TestMuteSilencesMeter(t *testing.T) {
	t.Parallel()

	m := New(48000)
	outL := make([]float32, 64)
	outR := make([]float32, 64)
	in := make([]float32, 128)
	for i := range 64 {
		v := float32(math.Sin(float64(i) * 0.3))
		in[2*i], in[2*i+1] = v, v
	}

	m.Process([][]float32{in}, outL, outR)
	tr := &m.arena.Load().tracks[0]
	require.Positive(t, tr.meter)

	m.SetTrack(TrackUpdate{Index: 0, Mute: ptr(true)})
	m.Process([][]float32{in}, outL, outR)
	assert.Zero(t, tr.meter)
	assert.Zero(t, tr.hp)
	assert.Equal(t, make([]float32, 64), outL)
}

func TestResetMeters(t *testing.T) {
	t.Parallel()

	m := New(48000)
	outL := make([]float32, 1)
	outR := make([]float32, 1)
	m.Process([][]float32{{1, 1}}, outL, outR)
	tr := &m.arena.Load().tracks[0]
	require.Positive(t, tr.meter)

	m.ResetMeters()
	m.Process([][]float32{{0, 0}}, outL, outR)
	// the reset applies before the block, which then sees a small residual envelope
	assert.Less(t, tr.meter, float32(0.25))
	assert.False(t, m.resetMeter.Load())
}

type countingRecorder struct{ n int }

func (c *countingRecorder) RecordMeterEmission() { c.n++ }

func TestRunDeliversSnapshots(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{}
	m := New(48000, WithTracks(2), WithRecorder(rec))
	const block = 128

	outL := make([]float32, block)
	outR := make([]float32, block)
	in := make([]float32, 2*block)
	for i := range block {
		in[2*i] = float32(math.Sin(float64(i) * 0.5))
		in[2*i+1] = in[2*i]
	}

	// 800-frame interval: the seventh block emits
	for range 6 {
		m.Process([][]float32{in, in}, outL, outR)
	}
	assert.Empty(t, m.notify)
	m.Process([][]float32{in, in}, outL, outR)
	require.Len(t, m.notify, 1)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	got := make(chan MeterSnapshot, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, func(s MeterSnapshot) {
			got <- s
			cancel()
		})
	}()

	snap := <-got
	require.ErrorIs(t, <-done, context.Canceled)
	require.Len(t, snap.Meters, 2)
	assert.Positive(t, snap.Meters[0])
	assert.InDelta(t, snap.Meters[0], snap.Meters[1], 1e-9)
	assert.Equal(t, 1, rec.n)
}

func BenchmarkProcess8Tracks(b *testing.B) {
	m := New(48000, WithTracks(8))
	const block = 128
	inputs := make([][]float32, 8)
	for i := range inputs {
		inputs[i] = stereo(block, 0.1, -0.1)
	}
	outL := make([]float32, block)
	outR := make([]float32, block)
	b.ReportAllocs()
	for b.Loop() {
		m.Process(inputs, outL, outR)
	}
}
