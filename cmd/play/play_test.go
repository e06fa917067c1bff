package play

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/metronome"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/output"
	"github.com/herrbasan/SoundApp-sub001/internal/conf"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/formats/wav"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeWAV(t *testing.T, dir string, frames int) string {
	t.Helper()
	ch := make([]float32, frames)
	for i := range ch {
		ch[i] = 0.25
	}
	data, err := wav.EncodeBytes(&wav.Sample{SampleRate: 48000, Channels: [][]float32{ch, ch}}, 16)
	require.NoError(t, err)
	path := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	cmd := Command(app.New())
	require.NoError(t, cmd.ParseFlags([]string{"--tempo", "1.5", "--metronome", "--output", "null", "--bpm", "90"}))

	s := conf.Defaults()
	pitch := s.Stretch.Pitch
	var opts Options
	opts.Output, _ = cmd.Flags().GetString("output")
	opts.Tempo, _ = cmd.Flags().GetFloat64("tempo")
	opts.Metronome, _ = cmd.Flags().GetBool("metronome")
	opts.BPM, _ = cmd.Flags().GetFloat64("bpm")
	applyFlags(cmd, s, opts)

	assert.Equal(t, output.NameNull, s.Audio.Output)
	assert.InDelta(t, 1.5, s.Stretch.Tempo, 0)
	assert.InDelta(t, pitch, s.Stretch.Pitch, 0, "unset flags keep the settings")
	assert.True(t, s.Metronome.Enabled)
	assert.InDelta(t, 90.0, s.Metronome.BPM, 0)
}

func TestMetronomeConfigReadsFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tempoMap := filepath.Join(dir, "map.yaml")
	require.NoError(t, os.WriteFile(tempoMap, []byte(
		"- {tick: 0, numerator: 4, denominator: 4}\n- {tick: 1536, numerator: 3, denominator: 4}\n"), 0o600))

	high, _ := metronome.DefaultClicks(48000)
	click, err := wav.EncodeBytes(high, 16)
	require.NoError(t, err)
	clickPath := filepath.Join(dir, "high.wav")
	require.NoError(t, os.WriteFile(clickPath, click, 0o600))

	s := conf.Defaults()
	s.Metronome.TempoMapFile = tempoMap
	s.Metronome.HighClick = clickPath

	mc, err := metronomeConfig(s)
	require.NoError(t, err)
	require.Len(t, mc.TimeSignatures, 2)
	assert.Equal(t, 3, mc.TimeSignatures[1].Numerator)
	assert.Equal(t, click, mc.HighBuffer)
	assert.Nil(t, mc.LowBuffer, "empty path keeps the built-in click")

	s.Metronome.LowClick = filepath.Join(dir, "missing.wav")
	_, err = metronomeConfig(s)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestPlayToNullOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeWAV(t, dir, 4800)

	appCtx := app.New()
	s := *appCtx.Settings
	s.Audio.Output = output.NameNull
	s.Analyzer.Enabled = true
	s.Metronome.Enabled = true

	done := make(chan error, 1)
	go func() { done <- Play(context.Background(), appCtx, &s, path, 10*time.Second) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("playback did not finish")
	}
}

func TestWaitDrainedRendersStretchTail(t *testing.T) {
	t.Parallel()

	appCtx := app.New()
	eng, err := newEngine(appCtx, appCtx.Settings, 48000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	done := make(chan error, 1)
	go func() { done <- waitDrained(context.Background(), eng) }()

	out := make([]float32, 2*128)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.GreaterOrEqual(t, eng.Stats().Blocks, eng.TailBlocks())
			return
		case <-time.After(time.Millisecond):
			eng.Render(out)
		}
	}
}

func TestWaitDrainedStopsOnCancel(t *testing.T) {
	t.Parallel()

	appCtx := app.New()
	eng, err := newEngine(appCtx, appCtx.Settings, 48000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitDrained(ctx, eng), context.Canceled)
}

func TestPlayStopsOnCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeWAV(t, dir, 48000*30)

	appCtx := app.New()
	s := *appCtx.Settings
	s.Audio.Output = output.NameNull

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, Play(ctx, appCtx, &s, path, 0))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestPlayRejectsMissingFile(t *testing.T) {
	t.Parallel()

	appCtx := app.New()
	err := Play(context.Background(), appCtx, appCtx.Settings, filepath.Join(t.TempDir(), "none.wav"), 0)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}
