// Package output drives the engine render callback from a playback backend.
//
// Every backend pulls interleaved float32 blocks from a RenderFunc on its own
// audio thread. The render function must not block.
package output

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// Backend names accepted by New
const (
	NameMalgo = "malgo"
	NameOto   = "oto"
	NameNull  = "null"
)

const bytesPerSample = 4

// RenderFunc fills out, an interleaved block, with the next frames.
type RenderFunc func(out []float32)

// Config describes the stream a backend opens
type Config struct {
	SampleRate  int
	Channels    int
	BlockLength int    // preferred frames per callback
	Device      string // device name or id, empty for the system default
}

// Backend is a playback sink that calls render on its own thread
type Backend interface {
	Name() string
	Start(render RenderFunc) error
	Close() error
}

type options struct {
	log logger.Logger
}

// Option configures a backend
type Option func(*options)

// WithLogger replaces the module logger
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("output")
	}
	return o
}

func (c Config) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 || c.BlockLength <= 0 {
		return errors.Newf("invalid output config: %d Hz, %d channels, %d frames", c.SampleRate, c.Channels, c.BlockLength).
			Component("output").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// New creates the backend registered under name.
func New(name string, cfg Config, opts ...Option) (Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(name) {
	case NameMalgo, "":
		return NewMalgo(cfg, opts...)
	case NameOto:
		return NewOto(cfg, opts...)
	case NameNull:
		return NewNull(cfg, opts...)
	default:
		return nil, errors.Newf("unknown output backend %q", name).
			Component("output").
			Category(errors.CategoryConfiguration).
			Context("backend", name).
			Build()
	}
}

// putFloats encodes src as float32LE into dst, which must hold len(src)*4 bytes.
func putFloats(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*bytesPerSample:], math.Float32bits(v))
	}
}

func stateError(backend, msg string) error {
	return errors.Newf("%s", msg).
		Component("output").
		Category(errors.CategoryState).
		Context("backend", backend).
		Build()
}
