package output

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{SampleRate: 48000, Channels: 2, BlockLength: 480}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero rate", Config{Channels: 2, BlockLength: 128}},
		{"zero channels", Config{SampleRate: 48000, BlockLength: 128}},
		{"zero block", Config{SampleRate: 48000, Channels: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(NameNull, tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestNewUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := New("jack", testConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewSelectsNull(t *testing.T) {
	t.Parallel()

	b, err := New("NULL", testConfig(), WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)
	assert.Equal(t, NameNull, b.Name())
	require.NoError(t, b.Close())
}

func TestNullRendersBlocks(t *testing.T) {
	t.Parallel()

	n, err := NewNull(testConfig(), WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)

	var calls atomic.Int64
	var size atomic.Int64
	require.NoError(t, n.Start(func(out []float32) {
		size.Store(int64(len(out)))
		calls.Add(1)
	}))

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(960), size.Load())

	err = n.Start(func([]float32) {})
	assert.True(t, errors.IsCategory(err, errors.CategoryState), "second start is rejected")

	require.NoError(t, n.Close())
	after := n.Blocks()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, n.Blocks(), "no blocks after close")
	assert.NoError(t, n.Close(), "close is idempotent")

	err = n.Start(func([]float32) {})
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestNullCloseWithoutStart(t *testing.T) {
	t.Parallel()

	n, err := NewNull(testConfig(), WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)
	assert.NoError(t, n.Close())
}

func TestPullReaderRendersWholeFrames(t *testing.T) {
	t.Parallel()

	r := &pullReader{
		channels: 2,
		render: func(out []float32) {
			for i := range out {
				out[i] = float32(i) * 0.25
			}
		},
	}

	p := make([]byte, 8*3+5) // three frames plus a partial one
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	for i := 0; i < 6; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		assert.InDelta(t, float32(i)*0.25, got, 0)
	}

	n, err = r.Read(make([]byte, 7))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMatchesDevice(t *testing.T) {
	t.Parallel()

	assert.True(t, matchesDevice("hw:1,0", "USB Audio", "hw:1,0"))
	assert.True(t, matchesDevice("", "USB Audio CODEC", "USB Audio"))
	assert.False(t, matchesDevice("hw:0,0", "HDA Intel", "USB"))
	assert.Equal(t, "hw:1,0", decodeID("68773a312c3000"))
	assert.Equal(t, "not-hex", decodeID("not-hex"))
}
