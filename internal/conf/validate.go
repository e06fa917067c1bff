// conf/validate.go

package conf

import (
	"fmt"
	"math/bits"
	"slices"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validateStretchSettings(&settings.Stretch)...)
	ve.Errors = append(ve.Errors, validateMixerSettings(&settings.Mixer, settings.Audio.Tracks)...)
	ve.Errors = append(ve.Errors, validateMetronomeSettings(&settings.Metronome)...)
	ve.Errors = append(ve.Errors, validateAnalyzerSettings(&settings.Analyzer)...)

	if settings.Midi.GapMs <= 0 {
		ve.Errors = append(ve.Errors, "MIDI gap threshold must be positive")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(settings *AudioSettings) []string {
	var errs []string

	if settings.SampleRate < 8000 || settings.SampleRate > 384000 {
		errs = append(errs, "audio sample rate must be between 8000 and 384000 Hz")
	}
	if settings.BlockLength < 16 || settings.BlockLength > 8192 {
		errs = append(errs, "audio block length must be between 16 and 8192 frames")
	}
	if settings.Channels != 2 {
		errs = append(errs, "audio channels must be 2, the engine renders a stereo bus")
	}
	if settings.RingSeconds <= 0 || settings.RingSeconds > 60 {
		errs = append(errs, "audio ring_seconds must be in (0, 60]")
	}
	if settings.Tracks < 1 {
		errs = append(errs, "audio tracks must be at least 1")
	}
	if !slices.Contains([]string{"malgo", "oto", "null"}, settings.Output) {
		errs = append(errs, fmt.Sprintf("audio output %q is not one of malgo, oto, null", settings.Output))
	}

	return errs
}

func validateStretchSettings(settings *StretchSettings) []string {
	var errs []string

	if settings.Pitch <= 0 || settings.Pitch > 4 {
		errs = append(errs, "stretch pitch ratio must be in (0, 4]")
	}
	if settings.Tempo <= 0 || settings.Tempo > 4 {
		errs = append(errs, "stretch tempo ratio must be in (0, 4]")
	}

	return errs
}

func validateMixerSettings(settings *MixerSettings, tracks int) []string {
	var errs []string

	if settings.MaxTracks < 1 || settings.MaxTracks > 64 {
		errs = append(errs, "mixer max_tracks must be between 1 and 64")
	}
	if tracks > settings.MaxTracks {
		errs = append(errs, "audio tracks must not exceed mixer max_tracks")
	}
	if settings.MeterHz <= 0 {
		errs = append(errs, "mixer meter_hz must be positive")
	}
	if settings.MinMeterFrames < 1 {
		errs = append(errs, "mixer min_meter_frames must be at least 1")
	}

	return errs
}

func validateMetronomeSettings(settings *MetronomeSettings) []string {
	var errs []string

	if settings.PPQ <= 0 {
		errs = append(errs, "metronome ppq must be positive")
	}
	if settings.BPM <= 0 || settings.BPM > 999 {
		errs = append(errs, "metronome bpm must be in (0, 999]")
	}
	if settings.HighGain < 0 || settings.LowGain < 0 {
		errs = append(errs, "metronome gains must not be negative")
	}
	if err := validateTimeSignatures(settings.TimeSignatures); err != nil {
		errs = append(errs, err.Error())
	}

	return errs
}

// validateTimeSignatures checks ordering and musical sanity of a time signature map
func validateTimeSignatures(sigs []TimeSignatureSettings) error {
	if len(sigs) == 0 {
		return fmt.Errorf("metronome time signature map must not be empty")
	}
	for i, sig := range sigs {
		if sig.Tick < 0 {
			return fmt.Errorf("time signature %d has negative tick %d", i, sig.Tick)
		}
		if i > 0 && sig.Tick < sigs[i-1].Tick {
			return fmt.Errorf("time signature map must be sorted by tick (entry %d)", i)
		}
		if sig.Numerator <= 0 {
			return fmt.Errorf("time signature %d has non-positive numerator", i)
		}
		if sig.Denominator <= 0 || bits.OnesCount(uint(sig.Denominator)) != 1 {
			return fmt.Errorf("time signature %d denominator %d is not a power of two", i, sig.Denominator)
		}
	}
	return nil
}

func validateAnalyzerSettings(settings *AnalyzerSettings) []string {
	var errs []string

	if settings.FFTSize < 32 || settings.FFTSize > 32768 || bits.OnesCount(uint(settings.FFTSize)) != 1 {
		errs = append(errs, "analyzer fft_size must be a power of two between 32 and 32768")
	}
	if settings.Interval <= 0 {
		errs = append(errs, "analyzer interval must be positive")
	}
	if settings.ShortTermSeconds <= 0 {
		errs = append(errs, "analyzer short_term_seconds must be positive")
	}
	if settings.QueueSize < 1 {
		errs = append(errs, "analyzer queue_size must be at least 1")
	}

	return errs
}
