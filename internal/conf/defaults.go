// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with the engine and command packages
const (
	DefaultSampleRate  = 48000
	DefaultBlockLength = 128 // Web Audio render quantum
	DefaultChannels    = 2
	DefaultPPQ         = 96
	DefaultBPM         = 120.0
	DefaultMidiGapMs   = 4000.0
	DefaultFFTSize     = 2048
)

// setDefaultConfig sets default values for the configuration
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("audio.sample_rate", DefaultSampleRate)
	v.SetDefault("audio.block_length", DefaultBlockLength)
	v.SetDefault("audio.channels", DefaultChannels)
	v.SetDefault("audio.ring_seconds", 2.0)
	v.SetDefault("audio.tracks", 1)
	v.SetDefault("audio.output", "malgo")
	v.SetDefault("audio.device", "")

	v.SetDefault("stretch.pitch", 1.0)
	v.SetDefault("stretch.tempo", 1.0)
	v.SetDefault("stretch.quality", false)

	v.SetDefault("mixer.max_tracks", 8)
	v.SetDefault("mixer.meter_hz", 60.0)
	v.SetDefault("mixer.min_meter_frames", 128)

	v.SetDefault("metronome.enabled", false)
	v.SetDefault("metronome.ppq", DefaultPPQ)
	v.SetDefault("metronome.bpm", DefaultBPM)
	v.SetDefault("metronome.high_gain", 1.0)
	v.SetDefault("metronome.low_gain", 0.7)
	v.SetDefault("metronome.high_click", "")
	v.SetDefault("metronome.low_click", "")
	v.SetDefault("metronome.time_signatures", []map[string]any{
		{"tick": 0, "numerator": 4, "denominator": 4},
	})
	v.SetDefault("metronome.tempo_map_file", "")

	v.SetDefault("analyzer.enabled", true)
	v.SetDefault("analyzer.minimal", false)
	v.SetDefault("analyzer.fft_size", DefaultFFTSize)
	v.SetDefault("analyzer.interval", 50*time.Millisecond)
	v.SetDefault("analyzer.short_term_seconds", 3.0)
	v.SetDefault("analyzer.queue_size", 4)

	v.SetDefault("midi.gap_ms", DefaultMidiGapMs)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.console.json", false)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/soundcore.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.textfile", "")
}
