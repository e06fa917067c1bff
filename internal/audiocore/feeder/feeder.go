// Package feeder moves decoded PCM from a non-real-time producer into a
// shared ring buffer. Producers write interleaved little-endian float32
// bytes; a pump goroutine converts whole frames and writes them into the
// ring as space frees up.
package feeder

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	srb "github.com/herrbasan/SoundApp-sub001/internal/audiocore/ringbuffer"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

const (
	bytesPerSample = 4

	// DefaultStagingFrames sizes the byte staging ring
	DefaultStagingFrames = 8192
	// DefaultPollInterval is how often the pump rechecks a full ring
	DefaultPollInterval = 5 * time.Millisecond
)

// ErrClosed is returned by Write after Close
var ErrClosed = errors.NewStd("feeder closed")

// Recorder receives feeder observations
type Recorder interface {
	RecordFeederWrite(n int)
	RecordFeederBackpressure()
	SetRingFill(ring string, available, capacity int)
}

// Config holds configuration for a Feeder
type Config struct {
	// Name labels the ring in metrics and logs.
	Name          string
	StagingFrames int
	PollInterval  time.Duration
}

// Feeder is an io.Writer for float32LE interleaved PCM that drains into a
// shared ring buffer.
type Feeder struct {
	ring       *srb.RingBuffer
	staging    *ringbuffer.RingBuffer
	config     Config
	frameBytes int
	recorder   Recorder
	log        logger.Logger

	data  chan struct{} // producer wrote
	space chan struct{} // pump drained

	closeOnce sync.Once
	done      chan struct{}

	// owned by the pump
	raw    []byte
	frames []float32
}

// Option configures a Feeder
type Option func(*Feeder)

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(f *Feeder) {
		f.recorder = r
	}
}

// WithLogger replaces the module logger
func WithLogger(l logger.Logger) Option {
	return func(f *Feeder) {
		f.log = l
	}
}

// New creates a feeder writing into ring.
func New(ring *srb.RingBuffer, config Config, opts ...Option) (*Feeder, error) {
	if ring == nil {
		return nil, errors.Newf("feeder needs a ring buffer").
			Component("feeder").
			Category(errors.CategoryValidation).
			Build()
	}
	if config.StagingFrames <= 0 {
		config.StagingFrames = DefaultStagingFrames
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Name == "" {
		config.Name = "main"
	}

	frameBytes := ring.Channels() * bytesPerSample
	f := &Feeder{
		ring:       ring,
		staging:    ringbuffer.New(config.StagingFrames * frameBytes),
		config:     config,
		frameBytes: frameBytes,
		data:       make(chan struct{}, 1),
		space:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		raw:        make([]byte, config.StagingFrames*frameBytes),
		frames:     make([]float32, config.StagingFrames*ring.Channels()),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.Global().Module("feeder").With(logger.String("ring", config.Name))
	}
	return f, nil
}

// Write stages p, blocking while the staging ring is full. It returns
// ErrClosed once the feeder is closed.
func (f *Feeder) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		select {
		case <-f.done:
			return written, ErrClosed
		default:
		}

		n, err := f.staging.Write(p[written:])
		written += n
		if n > 0 {
			signal(f.data)
			if f.recorder != nil {
				f.recorder.RecordFeederWrite(n)
			}
			continue
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			return written, errors.New(err).
				Component("feeder").
				Category(errors.CategoryBuffer).
				Build()
		}

		if f.recorder != nil {
			f.recorder.RecordFeederBackpressure()
		}
		select {
		case <-f.space:
		case <-f.done:
			return written, ErrClosed
		}
	}
	return written, nil
}

// WriteFrames stages interleaved float frames.
func (f *Feeder) WriteFrames(frames []float32) (int, error) {
	buf := make([]byte, len(frames)*bytesPerSample)
	for i, v := range frames {
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(v))
	}
	n, err := f.Write(buf)
	return n / bytesPerSample, err
}

// Buffered returns the staged bytes not yet moved into the ring
func (f *Feeder) Buffered() int {
	return f.staging.Length()
}

// Discard drops everything staged. Writers should be stopped first.
func (f *Feeder) Discard() {
	f.staging.Reset()
	signal(f.space)
}

// Close makes pending and future writes fail with ErrClosed. Run keeps
// draining what was already staged until its context ends.
func (f *Feeder) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// Run pumps staged frames into the ring until ctx is done and returns ctx.Err().
func (f *Feeder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	for {
		f.pump()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.data:
		case <-ticker.C:
		}
	}
}

// pump moves as many whole frames as the ring accepts and reports whether
// any moved.
func (f *Feeder) pump() bool {
	moved := false
	for {
		n := min(f.staging.Length()/f.frameBytes, f.ring.Free(), len(f.raw)/f.frameBytes)
		if n == 0 {
			break
		}
		raw := f.raw[:n*f.frameBytes]
		read, err := f.staging.Read(raw)
		if err != nil && read == 0 {
			break
		}
		if read != len(raw) {
			f.log.Warn("short read from staging ring",
				logger.Int("want", len(raw)),
				logger.Int("got", read))
			break
		}

		samples := f.frames[:n*f.ring.Channels()]
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
		}
		f.ring.Write(samples)
		moved = true
	}
	if moved {
		signal(f.space)
	}
	if f.recorder != nil {
		f.recorder.SetRingFill(f.config.Name, f.ring.Available(), f.ring.Capacity())
	}
	return moved
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

var _ io.Writer = (*Feeder)(nil)
