package engine

import (
	"math"
	"time"

	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/metronome"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/mixer"
	"github.com/herrbasan/SoundApp-sub001/internal/conf"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// Config sizes the rings and stages of an Engine
type Config struct {
	SampleRate  int
	BlockLength int
	Tracks      int // track rings; track 0 feeds the stretch stage
	RingFrames  int // capacity of each track ring

	Pitch   float64
	Tempo   float64
	Quality bool

	MaxTracks      int // mixer arena size, at least Tracks
	MeterHz        int
	MinMeterFrames int

	PPQ int
	BPM float64

	Analyzer AnalyzerConfig
}

// AnalyzerConfig controls the scope tap and the loudness worker
type AnalyzerConfig struct {
	Enabled   bool
	Minimal   bool
	Frames    int // snapshot length
	Interval  time.Duration
	QueueSize int
}

// DefaultConfig returns a stereo 48 kHz configuration with one track
func DefaultConfig() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = audiocore.DefaultSampleRate
	}
	if c.BlockLength == 0 {
		c.BlockLength = audiocore.DefaultBlockLength
	}
	if c.Tracks == 0 {
		c.Tracks = 1
	}
	if c.RingFrames == 0 {
		c.RingFrames = 2 * c.SampleRate
	}
	if c.Pitch == 0 {
		c.Pitch = 1
	}
	if c.Tempo == 0 {
		c.Tempo = 1
	}
	if c.MaxTracks == 0 {
		c.MaxTracks = max(c.Tracks, 1)
	}
	if c.MeterHz == 0 {
		c.MeterHz = 60
	}
	if c.MinMeterFrames == 0 {
		c.MinMeterFrames = 128
	}
	if c.PPQ == 0 {
		c.PPQ = metronome.DefaultPPQ
	}
	if c.Analyzer.Frames == 0 {
		c.Analyzer.Frames = conf.DefaultFFTSize
	}
	if c.Analyzer.Interval == 0 {
		c.Analyzer.Interval = 50 * time.Millisecond
	}
}

// Validate reports the first invalid field
func (c *Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return invalidConfig("sample rate must be positive", "sample_rate", c.SampleRate)
	case c.BlockLength <= 0 || c.BlockLength > audiocore.MaxBlockLength:
		return invalidConfig("block length out of range", "block_length", c.BlockLength)
	case c.Tracks < 1 || c.Tracks > mixer.MaxTracks:
		return invalidConfig("track count out of range", "tracks", c.Tracks)
	case c.MaxTracks < c.Tracks || c.MaxTracks > mixer.MaxTracks:
		return invalidConfig("mixer arena smaller than the track count", "max_tracks", c.MaxTracks)
	case c.RingFrames < c.BlockLength:
		return invalidConfig("ring must hold at least one block", "ring_frames", c.RingFrames)
	case c.PPQ <= 0:
		return invalidConfig("ppq must be positive", "ppq", c.PPQ)
	case c.Analyzer.Enabled && c.Analyzer.Frames <= 0:
		return invalidConfig("analyzer snapshot length must be positive", "analyzer_frames", c.Analyzer.Frames)
	}
	return nil
}

func invalidConfig(msg, key string, value any) error {
	return errors.Newf("invalid engine config: %s", msg).
		Component("engine").
		Category(errors.CategoryValidation).
		Context(key, value).
		Build()
}

// ConfigFromSettings maps loaded settings onto an engine configuration
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		SampleRate:     s.Audio.SampleRate,
		BlockLength:    s.Audio.BlockLength,
		Tracks:         s.Audio.Tracks,
		RingFrames:     int(math.Ceil(s.Audio.RingSeconds * float64(s.Audio.SampleRate))),
		Pitch:          s.Stretch.Pitch,
		Tempo:          s.Stretch.Tempo,
		Quality:        s.Stretch.Quality,
		MaxTracks:      s.Mixer.MaxTracks,
		MeterHz:        int(math.Round(s.Mixer.MeterHz)),
		MinMeterFrames: s.Mixer.MinMeterFrames,
		PPQ:            s.Metronome.PPQ,
		BPM:            s.Metronome.BPM,
		Analyzer: AnalyzerConfig{
			Enabled:   s.Analyzer.Enabled,
			Minimal:   s.Analyzer.Minimal,
			Frames:    s.Analyzer.FFTSize,
			Interval:  s.Analyzer.Interval,
			QueueSize: s.Analyzer.QueueSize,
		},
	}
}

// MetronomeConfig builds the metronome configuration from settings. Click
// buffers are loaded by the caller; the returned config leaves them nil.
func MetronomeConfig(s *conf.Settings) metronome.Config {
	enabled := s.Metronome.Enabled
	ppq := s.Metronome.PPQ
	high := float32(s.Metronome.HighGain)
	low := float32(s.Metronome.LowGain)

	sigs := make(metronome.TempoMap, 0, len(s.Metronome.TimeSignatures))
	for _, ts := range s.Metronome.TimeSignatures {
		sigs = append(sigs, metronome.TimeSignature{
			Tick:        ts.Tick,
			Numerator:   ts.Numerator,
			Denominator: ts.Denominator,
		})
	}
	return metronome.Config{
		Enabled:        &enabled,
		PPQ:            &ppq,
		TimeSignatures: sigs,
		HighGain:       &high,
		LowGain:        &low,
	}
}
