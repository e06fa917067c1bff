package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/metronome"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/mixer"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/stretch"
	"github.com/herrbasan/SoundApp-sub001/internal/conf"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/formats/wav"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
	"github.com/herrbasan/SoundApp-sub001/internal/loudness"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoEngine returns its input unchanged, with no latency.
type echoEngine struct {
	channels int
	buf      []float32
}

func (e *echoEngine) SetPitch(float64) {}
func (e *echoEngine) SetTempo(float64) {}

func (e *echoEngine) Process(in []float32, frames int) error {
	e.buf = append(e.buf, in[:frames*e.channels]...)
	return nil
}

func (e *echoEngine) Retrieve(out []float32, maxFrames int) (int, error) {
	n := min(maxFrames, len(e.buf)/e.channels)
	copy(out, e.buf[:n*e.channels])
	e.buf = e.buf[n*e.channels:]
	return n, nil
}

func (e *echoEngine) Close() error { return nil }

func echoFactory(channels int, _ bool) (stretch.Engine, error) {
	return &echoEngine{channels: channels}, nil
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg,
		WithLogger(logger.NewTestLogger()),
		WithStretchFactory(echoFactory))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func constant(frames int, v float32) []float32 {
	buf := make([]float32, frames*audiocore.Channels)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func TestRenderPassesMainTrack(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	require.Equal(t, 128, e.rings[0].Write(constant(128, 0.5)))

	out := make([]float32, 128*audiocore.Channels)
	e.Render(out)
	for i, v := range out {
		require.InDelta(t, 0.5, v, 1e-6, "sample %d", i)
	}
	assert.Equal(t, uint64(1), e.Stats().Blocks)

	// ring drained: the next block underruns into silence
	e.Render(out)
	for _, v := range out {
		require.Zero(t, v)
	}
	assert.Equal(t, uint64(1), e.Stats().StretchUnderrun)
}

func TestRenderSplitsLargeBuffers(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	out := make([]float32, 300*audiocore.Channels+1)
	out[len(out)-1] = 9
	e.Render(out)

	assert.Equal(t, uint64(3), e.Stats().Blocks)
	assert.Zero(t, out[len(out)-1], "trailing partial frame is cleared")
}

func TestRenderMixesExtraTracks(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{Tracks: 2})
	e.rings[0].Write(constant(128, 0.25))
	e.rings[1].Write(constant(128, 0.5))

	half := float32(0.5)
	require.True(t, e.SetTrack(mixer.TrackUpdate{Index: 1, Right: &half}))
	assert.False(t, e.SetTrack(mixer.TrackUpdate{Index: 5, Right: &half}))

	out := make([]float32, 128*audiocore.Channels)
	e.Render(out)
	assert.InDelta(t, 0.75, out[0], 1e-6)
	assert.InDelta(t, 0.5, out[1], 1e-6)
	assert.Zero(t, e.Stats().TrackUnderruns)

	e.rings[0].Write(constant(128, 0.25))
	e.Render(out)
	assert.InDelta(t, 0.25, out[0], 1e-6, "empty extra track is silent")
	assert.Equal(t, uint64(1), e.Stats().TrackUnderruns)
}

func TestMetronomeFollowsSession(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	enabled := true
	require.NoError(t, e.ConfigureMetronome(metronome.Config{Enabled: &enabled}))

	out := make([]float32, 128*audiocore.Channels)
	e.Render(out)
	for _, v := range out {
		require.Zero(t, v, "stopped transport is silent")
	}

	require.NoError(t, e.Start())
	e.Render(out)
	var peak float32
	for _, v := range out {
		peak = max(peak, float32(math.Abs(float64(v))))
	}
	assert.Greater(t, peak, float32(0.01), "click on the downbeat")
	assert.Equal(t, 1, e.Stats().ActiveClicks)

	tick, running := e.Clock().Tick()
	assert.True(t, running)
	assert.InDelta(t, metronome.TickSpan(128, 48000, metronome.DefaultTempo, metronome.DefaultPPQ), tick, 1e-9)
}

func TestConfigureMetronomeResetSeeksClock(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	ppq := 480
	require.NoError(t, e.ConfigureMetronome(metronome.Config{PPQ: &ppq, Reset: true, ResetTick: 960}))

	tick, _ := e.Clock().Tick()
	assert.InDelta(t, 960.0, tick, 0)
	assert.Equal(t, 480, e.Clock().PPQ())

	// without a reset the position keeps its musical time
	ppq = 960
	require.NoError(t, e.ConfigureMetronome(metronome.Config{PPQ: &ppq}))
	tick, _ = e.Clock().Tick()
	assert.InDelta(t, 1920.0, tick, 1e-9)

	err := e.ConfigureMetronome(metronome.Config{HighBuffer: []byte("nope")})
	assert.ErrorIs(t, err, &errors.EnhancedError{Category: errors.CategoryMetronome})
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	first := e.Session()
	require.NotEmpty(t, first)

	require.NoError(t, e.Start())
	assert.True(t, e.Running())
	assert.ErrorIs(t, e.Start(), audiocore.ErrAlreadyRunning)

	err := e.SetQuality(true)
	assert.True(t, errors.IsCategory(err, errors.CategoryState), "quality is fixed while running")

	second := e.Restart()
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, e.Session())
	assert.True(t, e.resetAnalyzer.Load())

	e.Stop()
	assert.False(t, e.Running())
	require.NoError(t, e.SetQuality(true))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Start(), audiocore.ErrClosed)
}

func TestFeederDeliversIntoTrackRing(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{Tracks: 2})
	_, err := e.Feeder(2)
	assert.ErrorIs(t, err, audiocore.ErrTrackOutOfRange)

	f, err := e.Feeder(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, Handlers{}) }()

	n, err := f.WriteFrames(constant(256, 0.1))
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	assert.Eventually(t, func() bool { return e.rings[1].Available() == 256 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 256, e.Queued(1))
	assert.Zero(t, e.Queued(0))
	assert.Zero(t, e.Queued(7))

	cancel()
	assert.NoError(t, <-done)
}

func TestTailBlocksCoverStretchLatency(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{})
	assert.Equal(t, uint64(24), e.TailBlocks(), "two fast grains and one grain of input")

	e.SetTempo(0.5)
	assert.Equal(t, uint64(32), e.TailBlocks())

	require.NoError(t, e.SetQuality(true))
	e.SetTempo(2)
	assert.Equal(t, uint64(80), e.TailBlocks())
}

func TestRunDeliversAnalysis(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{
		Analyzer: AnalyzerConfig{
			Enabled:  true,
			Minimal:  true,
			Frames:   256,
			Interval: 2 * time.Millisecond,
		},
	})

	for range 4 {
		e.rings[0].Write(constant(128, 0.5))
		e.Render(make([]float32, 128*audiocore.Channels))
	}

	results := make(chan loudness.Result, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, Handlers{Analysis: func(r loudness.Result) {
			select {
			case results <- r:
			default:
			}
		}})
	}()

	var res loudness.Result
	select {
	case res = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("no analysis result")
	}
	cancel()
	require.NoError(t, <-done)

	require.NoError(t, res.Err)
	assert.InDelta(t, 20*math.Log10(0.5), res.Peaks[0], 1e-6)
	assert.InDelta(t, 20*math.Log10(0.5), res.Peaks[1], 1e-6)
	assert.Nil(t, res.LUFS)
}

func TestConfigureMixerResizesArena(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{Tracks: 2})
	require.NoError(t, e.ConfigureMixer(1))

	e.rings[0].Write(constant(128, 0.25))
	e.rings[1].Write(constant(128, 0.5))
	half := float32(0.5)
	assert.False(t, e.SetTrack(mixer.TrackUpdate{Index: 1, Right: &half}), "track 1 left the arena")

	out := make([]float32, 128*audiocore.Channels)
	e.Render(out)
	assert.InDelta(t, 0.25, out[0], 1e-6, "tracks beyond the arena are not mixed")

	err := e.ConfigureMixer(mixer.MaxTracks + 1)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

type countingDecoder struct {
	calls int
}

func (d *countingDecoder) Decode(data []byte) (*wav.Sample, error) {
	d.calls++
	return wav.Decode(data)
}

func TestClickDecoderOption(t *testing.T) {
	t.Parallel()

	dec := &countingDecoder{}
	e, err := New(DefaultConfig(),
		WithLogger(logger.NewTestLogger()),
		WithStretchFactory(echoFactory),
		WithClickDecoder(dec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	high, _ := metronome.DefaultClicks(48000)
	data, err := wav.EncodeBytes(high, 16)
	require.NoError(t, err)

	require.NoError(t, e.ConfigureMetronome(metronome.Config{HighBuffer: data}))
	assert.Equal(t, 1, dec.calls)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"block too long", Config{BlockLength: audiocore.MaxBlockLength + 1}},
		{"too many tracks", Config{Tracks: mixer.MaxTracks + 1}},
		{"arena smaller than tracks", Config{Tracks: 4, MaxTracks: 2}},
		{"ring smaller than block", Config{RingFrames: 64}},
		{"negative rate", Config{SampleRate: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, WithLogger(logger.NewTestLogger()))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := conf.Defaults()
	cfg := ConfigFromSettings(s)
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 96000, cfg.RingFrames)
	assert.Equal(t, 60, cfg.MeterHz)

	mc := MetronomeConfig(s)
	require.Len(t, mc.TimeSignatures, 1)
	assert.Equal(t, 4, mc.TimeSignatures[0].Numerator)
	assert.InDelta(t, 0.7, *mc.LowGain, 1e-6)
}
