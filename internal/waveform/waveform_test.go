package waveform

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/herrbasan/SoundApp-sub001/internal/formats/wav"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func encode(t *testing.T, channels ...[]float32) []byte {
	t.Helper()
	data, err := wav.EncodeBytes(&wav.Sample{SampleRate: 8000, Channels: channels}, 16)
	require.NoError(t, err)
	return data
}

// square alternates between +amp and -amp every period frames.
func square(frames, period int, amp float32) []float32 {
	out := make([]float32, frames)
	for i := range out {
		if (i/period)%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func TestExtractMinMax(t *testing.T) {
	t.Parallel()

	left := square(1000, 5, 0.5)
	right := make([]float32, 1000)
	right[999] = 0.25

	res, err := Extract(t.Context(), bytes.NewReader(encode(t, left, right)), Options{Points: 10, ChunkFrames: 64})
	require.NoError(t, err)

	assert.Equal(t, 8000, res.SampleRate)
	assert.Equal(t, 2, res.Channels)
	assert.Equal(t, 1000, res.Frames)
	assert.Equal(t, 1000, res.FramesScanned)
	assert.Equal(t, 100, res.FramesPerPt)
	assert.False(t, res.Aborted)
	require.Len(t, res.Min[0], 10)

	for p := range 10 {
		assert.InDelta(t, -0.5, res.Min[0][p], 1e-4)
		assert.InDelta(t, 0.5, res.Max[0][p], 1e-4)
	}
	assert.Zero(t, res.Max[1][0])
	assert.InDelta(t, 0.25, res.Max[1][9], 1e-4)
}

func TestExtractUnevenPoints(t *testing.T) {
	t.Parallel()

	res, err := Extract(t.Context(), bytes.NewReader(encode(t, square(1050, 7, 0.1))), Options{Points: 10})
	require.NoError(t, err)
	assert.Equal(t, 105, res.FramesPerPt)
	assert.Len(t, res.Max[0], 10)

	res, err = Extract(t.Context(), bytes.NewReader(encode(t, square(5, 1, 0.1))), Options{Points: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FramesPerPt)
	assert.Len(t, res.Max[0], 5, "short files get one point per frame")
}

func TestExtractAbortReturnsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := Extract(ctx, bytes.NewReader(encode(t, square(1000, 5, 0.5))), Options{Points: 10, ChunkFrames: 64})
	require.NoError(t, err, "abort is not an error")
	assert.True(t, res.Aborted)
	assert.Zero(t, res.FramesScanned)
	assert.Len(t, res.Max[0], 10)
}

func TestExtractRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Extract(t.Context(), bytes.NewReader([]byte("this is not a RIFF file")), Options{})
	require.Error(t, err)
}

func TestExtractFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var paths []string
	for i, amp := range []float32{0.1, 0.2, 0.3} {
		p := filepath.Join(dir, []string{"a.wav", "b.wav", "c.wav"}[i])
		require.NoError(t, os.WriteFile(p, encode(t, square(400, 4, amp)), 0o600))
		paths = append(paths, p)
	}

	results, err := ExtractFiles(t.Context(), paths, Options{Points: 4}, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, paths[i], res.Path)
		assert.InDelta(t, 0.1*float64(i+1), res.Max[0][0], 1e-4)
	}

	_, err = ExtractFiles(t.Context(), append(paths, filepath.Join(dir, "missing.wav")), Options{}, 0)
	require.Error(t, err)
}
