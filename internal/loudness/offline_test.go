package loudness

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

func TestToByte(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want byte
	}{
		{0, SampleBias},
		{0.5, 192},
		{-0.5, 64},
		{1, 255},
		{-1, 0},
		{3, 255},
		{-3, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToByte(tt.in), "ToByte(%v)", tt.in)
	}
}

func interleaved(frames int, v float32) []float32 {
	buf := make([]float32, frames*2)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func sineInterleaved(frames int, freq, amp float64) []float32 {
	buf := make([]float32, frames*2)
	for i := range frames {
		v := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/testRate))
		buf[2*i], buf[2*i+1] = v, v
	}
	return buf
}

func TestOfflineRejectsBadInput(t *testing.T) {
	t.Parallel()

	for _, args := range [][3]int{{0, 256, 10}, {testRate, 0, 10}, {testRate, 256, 0}} {
		_, err := NewOffline(args[0], args[1], time.Duration(args[2])*time.Millisecond, true)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestOfflineWindowsWithGaps(t *testing.T) {
	t.Parallel()

	// 256 frame windows every 480 frames
	o, err := NewOffline(testRate, 256, 10*time.Millisecond, true)
	require.NoError(t, err)

	stream := interleaved(4800, 0.5)
	for len(stream) > 0 {
		n := min(98, len(stream))
		require.NoError(t, o.Write(stream[:n]))
		stream = stream[n:]
	}

	assert.Equal(t, 10, o.Snapshots())
	res := o.Result()
	assert.InDelta(t, 20*math.Log10(0.5), res.Peaks[0], 1e-6)
	assert.InDelta(t, 20*math.Log10(0.5), res.Peaks[1], 1e-6)
	assert.InDelta(t, 20*math.Log10(0.5), res.PeakMax, 1e-6)
	assert.Nil(t, res.LUFS)
}

func TestOfflineOverlappingWindows(t *testing.T) {
	t.Parallel()

	// hop of 128 frames, half the window
	o, err := NewOffline(testRate, 256, time.Duration(128*int64(time.Second)/testRate), false)
	require.NoError(t, err)

	require.NoError(t, o.Write(sineInterleaved(1024, 1000, 0.5)))
	assert.Equal(t, 7, o.Snapshots())

	res := o.Result()
	require.NotNil(t, res.LUFS)
	assert.Greater(t, res.LUFS.Momentary, -20.0)
	assert.InDelta(t, 1.0, res.Correlation, 1e-6)
}

func stereoPair(frames int, left, right float32) []float32 {
	buf := make([]float32, frames*2)
	for i := range frames {
		buf[2*i] = left
		buf[2*i+1] = right
	}
	return buf
}

func TestOfflineKeepsChannelsAcrossSplitFrames(t *testing.T) {
	t.Parallel()

	o, err := NewOffline(testRate, 4, time.Millisecond, true)
	require.NoError(t, err)

	samples := stereoPair(4, 0.5, 0.25)
	require.NoError(t, o.Write(samples[:7]))
	assert.Zero(t, o.Snapshots(), "the fourth frame is incomplete")
	require.NoError(t, o.Write(samples[7:]))
	require.Equal(t, 1, o.Snapshots())

	res := o.Result()
	assert.InDelta(t, 20*math.Log10(0.5), res.Peaks[0], 1e-6)
	assert.InDelta(t, 20*math.Log10(0.25), res.Peaks[1], 1e-6)

	// skip the gap to the next window one sample at a time
	hop := testRate / 1000
	rest := stereoPair(hop, 0.25, 0.5)
	for i := range rest {
		require.NoError(t, o.Write(rest[i:i+1]))
	}
	require.Equal(t, 2, o.Snapshots())
	res = o.Result()
	assert.InDelta(t, 20*math.Log10(0.25), res.Peaks[0], 1e-6)
	assert.InDelta(t, 20*math.Log10(0.5), res.Peaks[1], 1e-6)
}
