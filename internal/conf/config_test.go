package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	s := Defaults()
	require.NoError(t, ValidateSettings(s))

	assert.Equal(t, DefaultSampleRate, s.Audio.SampleRate)
	assert.Equal(t, DefaultBlockLength, s.Audio.BlockLength)
	assert.Equal(t, DefaultPPQ, s.Metronome.PPQ)
	assert.Equal(t, 50*time.Millisecond, s.Analyzer.Interval)
	assert.InDelta(t, DefaultMidiGapMs, s.Midi.GapMs, 0)
	require.Len(t, s.Metronome.TimeSignatures, 1)
	assert.Equal(t, TimeSignatureSettings{Tick: 0, Numerator: 4, Denominator: 4}, s.Metronome.TimeSignatures[0])
	assert.Equal(t, "info", s.Logging.DefaultLevel)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  sample_rate: 44100
  output: "null"
metronome:
  enabled: true
  ppq: 480
  time_signatures:
    - {tick: 0, numerator: 4, denominator: 4}
    - {tick: 1920, numerator: 3, denominator: 4}
analyzer:
  interval: 100ms
`), 0o600))

	l := NewLoader()
	s, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 44100, s.Audio.SampleRate)
	assert.Equal(t, "null", s.Audio.Output)
	assert.True(t, s.Metronome.Enabled)
	assert.Equal(t, 480, s.Metronome.PPQ)
	require.Len(t, s.Metronome.TimeSignatures, 2)
	assert.Equal(t, int64(1920), s.Metronome.TimeSignatures[1].Tick)
	assert.Equal(t, 100*time.Millisecond, s.Analyzer.Interval)
	assert.Equal(t, DefaultBlockLength, s.Audio.BlockLength, "unset keys keep defaults")
	assert.Equal(t, path, l.ConfigFileUsed())
	assert.Same(t, s, l.Settings())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mixer:\n  max_tracks: 0\n"), 0o600))

	_, err := NewLoader().Load(path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Errors, "mixer max_tracks must be between 1 and 64")
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("SOUNDCORE_AUDIO_BLOCK_LENGTH", "256")
	t.Setenv("SOUNDCORE_STRETCH_QUALITY", "true")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: true\n"), 0o600))

	s, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, s.Audio.BlockLength)
	assert.True(t, s.Stretch.Quality)
	assert.True(t, s.Debug)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	t.Parallel()

	s := Defaults()
	s.Audio.Output = "oto"
	s.Metronome.BPM = 90
	s.Analyzer.Interval = 75 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, s))

	loaded, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "oto", loaded.Audio.Output)
	assert.InDelta(t, 90.0, loaded.Metronome.BPM, 0)
	assert.Equal(t, 75*time.Millisecond, loaded.Analyzer.Interval)
}

func TestLoadTimeSignatures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("valid map", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "map.yaml")
		require.NoError(t, os.WriteFile(path, []byte("- {tick: 0, numerator: 4, denominator: 4}\n- {tick: 96, numerator: 3, denominator: 4}\n"), 0o600))

		sigs, err := LoadTimeSignatures(path)
		require.NoError(t, err)
		require.Len(t, sigs, 2)
		assert.Equal(t, 3, sigs[1].Numerator)
	})

	t.Run("unsorted map", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "unsorted.yaml")
		require.NoError(t, os.WriteFile(path, []byte("- {tick: 96, numerator: 3, denominator: 4}\n- {tick: 0, numerator: 4, denominator: 4}\n"), 0o600))

		_, err := LoadTimeSignatures(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sorted")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadTimeSignatures(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
	})
}
