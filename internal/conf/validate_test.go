package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"mono output", func(s *Settings) { s.Audio.Channels = 1 }, "audio channels must be 2"},
		{"unknown backend", func(s *Settings) { s.Audio.Output = "jack" }, `audio output "jack"`},
		{"tiny block", func(s *Settings) { s.Audio.BlockLength = 8 }, "block length"},
		{"zero tempo", func(s *Settings) { s.Stretch.Tempo = 0 }, "tempo ratio"},
		{"too many tracks", func(s *Settings) { s.Audio.Tracks = 9 }, "must not exceed mixer max_tracks"},
		{"non-positive ppq", func(s *Settings) { s.Metronome.PPQ = 0 }, "ppq must be positive"},
		{"odd denominator", func(s *Settings) {
			s.Metronome.TimeSignatures = []TimeSignatureSettings{{Tick: 0, Numerator: 7, Denominator: 6}}
		}, "not a power of two"},
		{"fft size", func(s *Settings) { s.Analyzer.FFTSize = 1000 }, "fft_size"},
		{"midi gap", func(s *Settings) { s.Midi.GapMs = 0 }, "MIDI gap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := Defaults()
			tt.mutate(s)

			err := ValidateSettings(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationErrorCollectsAll(t *testing.T) {
	t.Parallel()

	s := Defaults()
	s.Audio.SampleRate = 10
	s.Mixer.MeterHz = 0

	err := ValidateSettings(s)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}
