// Package conf loads, validates and persists soundcore settings.
//
// Settings come from, in increasing priority: built-in defaults, a YAML
// config file, SOUNDCORE_* environment variables and bound command line flags.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// Settings is the root of the configuration tree
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Audio     AudioSettings        `mapstructure:"audio" yaml:"audio"`
	Stretch   StretchSettings      `mapstructure:"stretch" yaml:"stretch"`
	Mixer     MixerSettings        `mapstructure:"mixer" yaml:"mixer"`
	Metronome MetronomeSettings    `mapstructure:"metronome" yaml:"metronome"`
	Analyzer  AnalyzerSettings     `mapstructure:"analyzer" yaml:"analyzer"`
	Midi      MidiSettings         `mapstructure:"midi" yaml:"midi"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
}

// AudioSettings controls the real-time callback and the shared ring buffers
type AudioSettings struct {
	SampleRate  int     `mapstructure:"sample_rate" yaml:"sample_rate"`   // output rate in Hz
	BlockLength int     `mapstructure:"block_length" yaml:"block_length"` // frames per callback
	Channels    int     `mapstructure:"channels" yaml:"channels"`         // interleaved channels, stereo only
	RingSeconds float64 `mapstructure:"ring_seconds" yaml:"ring_seconds"` // capacity of each track ring
	Tracks      int     `mapstructure:"tracks" yaml:"tracks"`             // track rings, track 0 feeds the stretcher
	Output      string  `mapstructure:"output" yaml:"output"`             // malgo, oto or null
	Device      string  `mapstructure:"device" yaml:"device"`             // playback device name or id, empty for default
}

// StretchSettings are the initial time-stretch controls
type StretchSettings struct {
	Pitch   float64 `mapstructure:"pitch" yaml:"pitch"`
	Tempo   float64 `mapstructure:"tempo" yaml:"tempo"`
	Quality bool    `mapstructure:"quality" yaml:"quality"`
}

// MixerSettings sizes the track arena and the meter cadence
type MixerSettings struct {
	MaxTracks      int     `mapstructure:"max_tracks" yaml:"max_tracks"`
	MeterHz        float64 `mapstructure:"meter_hz" yaml:"meter_hz"`
	MinMeterFrames int     `mapstructure:"min_meter_frames" yaml:"min_meter_frames"`
}

// TimeSignatureSettings is one entry of the metronome time signature map
type TimeSignatureSettings struct {
	Tick        int64 `mapstructure:"tick" yaml:"tick"`
	Numerator   int   `mapstructure:"numerator" yaml:"numerator"`
	Denominator int   `mapstructure:"denominator" yaml:"denominator"`
}

// MetronomeSettings configures click generation
type MetronomeSettings struct {
	Enabled        bool                    `mapstructure:"enabled" yaml:"enabled"`
	PPQ            int                     `mapstructure:"ppq" yaml:"ppq"`
	BPM            float64                 `mapstructure:"bpm" yaml:"bpm"`
	HighGain       float64                 `mapstructure:"high_gain" yaml:"high_gain"`
	LowGain        float64                 `mapstructure:"low_gain" yaml:"low_gain"`
	HighClick      string                  `mapstructure:"high_click" yaml:"high_click"` // WAV file, empty for the built-in click
	LowClick       string                  `mapstructure:"low_click" yaml:"low_click"`
	TimeSignatures []TimeSignatureSettings `mapstructure:"time_signatures" yaml:"time_signatures"`
	TempoMapFile   string                  `mapstructure:"tempo_map_file" yaml:"tempo_map_file"` // YAML file overriding time_signatures
}

// AnalyzerSettings configures the loudness and peak analyzer
type AnalyzerSettings struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Minimal          bool          `mapstructure:"minimal" yaml:"minimal"`
	FFTSize          int           `mapstructure:"fft_size" yaml:"fft_size"` // snapshot length in frames
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	ShortTermSeconds float64       `mapstructure:"short_term_seconds" yaml:"short_term_seconds"`
	QueueSize        int           `mapstructure:"queue_size" yaml:"queue_size"`
}

// MidiSettings configures activity segmentation
type MidiSettings struct {
	GapMs float64 `mapstructure:"gap_ms" yaml:"gap_ms"`
}

// MetricsSettings controls the Prometheus registry dump
type MetricsSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Textfile string `mapstructure:"textfile" yaml:"textfile"` // written on shutdown when set
}

// EnvPrefix is the prefix of environment overrides, e.g. SOUNDCORE_AUDIO_SAMPLE_RATE
const EnvPrefix = "SOUNDCORE"

// Loader wraps a viper instance so flags, files and the environment share one view
type Loader struct {
	v        *viper.Viper
	mu       sync.Mutex
	settings *Settings
}

// NewLoader returns a loader with defaults applied
func NewLoader() *Loader {
	v := viper.New()
	setDefaultConfig(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Viper exposes the underlying instance for flag binding
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configPath, or searches the default locations when it is empty.
// A missing config file is not an error; defaults are used.
func (l *Loader) Load(configPath string) (*Settings, error) {
	if configPath != "" {
		l.v.SetConfigFile(configPath)
	} else {
		l.v.SetConfigName("config")
		for _, path := range defaultConfigPaths() {
			l.v.AddConfigPath(path)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("configuration").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Build()
		}
	}

	settings, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.settings = settings
	l.mu.Unlock()
	return settings, nil
}

// ConfigFileUsed returns the path of the file that was read, empty when running on defaults
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Settings returns the most recently loaded settings
func (l *Loader) Settings() *Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

func (l *Loader) decode() (*Settings, error) {
	settings := &Settings{}
	if err := l.v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Watch re-reads the config file whenever it changes and calls onChange
// with the new settings. Invalid edits are reported and the previous
// settings stay current.
func (l *Loader) Watch(onChange func(*Settings, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		settings, err := l.decode()
		if err == nil {
			l.mu.Lock()
			l.settings = settings
			l.mu.Unlock()
		}
		onChange(settings, err)
	})
	l.v.WatchConfig()
}

// Defaults returns the built-in settings without reading files or the environment
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	// defaults are static and always decode
	_ = v.Unmarshal(settings)
	return settings
}

// defaultConfigPaths lists the directories searched for config.yaml
func defaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "soundcore"))
	}
	return paths
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// LoadTimeSignatures reads a YAML tempo map file of the form
//
//   - {tick: 0, numerator: 4, denominator: 4}
//   - {tick: 1536, numerator: 3, denominator: 4}
func LoadTimeSignatures(path string) ([]TimeSignatureSettings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user config
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}

	var sigs []TimeSignatureSettings
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileParsing).
			Context("file", filepath.Base(path)).
			Build()
	}

	if err := validateTimeSignatures(sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}
