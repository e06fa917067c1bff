// Package stretch is the time-stretch stage: it pulls fixed blocks from a
// shared ring buffer, runs them through a pitch/tempo engine and hands the
// processed frames to the callback. Engine failures degrade to passthrough
// of the unprocessed input.
package stretch

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/ringbuffer"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
	"github.com/herrbasan/SoundApp-sub001/internal/observability/metrics"
)

// DefaultBlockLength is the callback block size in frames.
const DefaultBlockLength = 128

// Recorder receives underrun and fallback counts
type Recorder interface {
	RecordUnderrun(stage string)
	RecordStretchFallback()
}

type engineBox struct {
	engine  Engine
	quality bool
}

// Stage is the time-stretch stage
type Stage struct {
	ring        *ringbuffer.RingBuffer
	factory     EngineFactory
	channels    int
	blockLength int
	recorder    Recorder
	log         logger.Logger
	warn        rate.Sometimes

	mu      sync.Mutex // serializes SetQuality, Close and Start
	engine  atomic.Pointer[engineBox]
	pitch   audiocore.Float64
	tempo   audiocore.Float64
	running atomic.Bool
	closed  atomic.Bool
	busy    atomic.Bool // set while the callback is inside Process

	fallbacks atomic.Uint64
	underruns atomic.Uint64

	// owned by the callback
	scratch      []float32
	lastEngine   *engineBox
	appliedPitch float64
	appliedTempo float64
	owed         float64 // input frames due to the engine
}

// Option configures a Stage
type Option func(*Stage)

// WithBlockLength sets the frames pulled from the ring per step
func WithBlockLength(frames int) Option {
	return func(s *Stage) {
		if frames > 0 {
			s.blockLength = frames
		}
	}
}

// WithQuality selects the initial engine quality
func WithQuality(quality bool) Option {
	return func(s *Stage) {
		s.engine.Store(&engineBox{quality: quality})
	}
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Stage) {
		s.recorder = r
	}
}

// WithLogger replaces the module logger
func WithLogger(l logger.Logger) Option {
	return func(s *Stage) {
		s.log = l
	}
}

// New creates a stage reading from ring. A nil factory uses the overlap-add
// engine.
func New(ring *ringbuffer.RingBuffer, factory EngineFactory, opts ...Option) (*Stage, error) {
	if ring == nil {
		return nil, errors.Newf("stretch stage needs a ring buffer").
			Component("stretch").
			Category(errors.CategoryValidation).
			Build()
	}
	if factory == nil {
		factory = NewOLAFactory()
	}
	s := &Stage{
		ring:        ring,
		factory:     factory,
		channels:    ring.Channels(),
		blockLength: DefaultBlockLength,
		warn:        rate.Sometimes{Interval: 5 * time.Second},
	}
	s.pitch.Store(1)
	s.tempo.Store(1)
	s.engine.Store(&engineBox{})
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("stretch")
	}

	quality := s.engine.Load().quality
	e, err := factory(s.channels, quality)
	if err != nil {
		return nil, errors.New(err).
			Component("stretch").
			Category(errors.CategoryStretch).
			Context("quality", quality).
			Build()
	}
	s.engine.Store(&engineBox{engine: e, quality: quality})
	s.scratch = make([]float32, s.blockLength*s.channels)
	return s, nil
}

func validRatio(r float64) bool {
	return r > 0 && !math.IsInf(r, 0)
}

// SetPitch sets the pitch ratio applied at the next block. Non-positive or
// non-finite ratios are ignored.
func (s *Stage) SetPitch(ratio float64) {
	if validRatio(ratio) {
		s.pitch.Store(ratio)
	}
}

// SetTempo sets the tempo ratio applied at the next block. Non-positive or
// non-finite ratios are ignored.
func (s *Stage) SetTempo(ratio float64) {
	if validRatio(ratio) {
		s.tempo.Store(ratio)
	}
}

// Pitch returns the requested pitch ratio
func (s *Stage) Pitch() float64 { return s.pitch.Load() }

// Tempo returns the requested tempo ratio
func (s *Stage) Tempo() float64 { return s.tempo.Load() }

// Quality reports the quality of the current engine
func (s *Stage) Quality() bool { return s.engine.Load().quality }

// SetQuality rebuilds the engine with the given quality. It fails with a
// state error while a session is running.
func (s *Stage) SetQuality(quality bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return errors.Newf("stretch stage is closed").
			Component("stretch").
			Category(errors.CategoryState).
			Build()
	}
	if s.running.Load() {
		return errors.Newf("cannot change stretch quality while running").
			Component("stretch").
			Category(errors.CategoryState).
			Context("quality", quality).
			Build()
	}
	old := s.engine.Load()
	if old.quality == quality && old.engine != nil {
		return nil
	}

	e, err := s.factory(s.channels, quality)
	if err != nil {
		return errors.New(err).
			Component("stretch").
			Category(errors.CategoryStretch).
			Context("quality", quality).
			Build()
	}
	s.engine.Store(&engineBox{engine: e, quality: quality})
	s.waitIdle()
	if old.engine != nil {
		if err := old.engine.Close(); err != nil {
			s.log.Warn("failed to close replaced stretch engine", logger.Error(err))
		}
	}
	s.log.Debug("stretch engine rebuilt",
		logger.Bool("quality", quality),
		logger.Int("block_size", BlockSize(quality)))
	return nil
}

// Start marks the beginning of a session
func (s *Stage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errors.Newf("stretch stage is closed").
			Component("stretch").
			Category(errors.CategoryState).
			Build()
	}
	s.running.Store(true)
	return nil
}

// Stop marks the end of a session
func (s *Stage) Stop() {
	s.running.Store(false)
}

// Running reports whether a session is active
func (s *Stage) Running() bool {
	return s.running.Load()
}

// Close disposes the engine. It is idempotent; afterwards Process writes
// silence.
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	s.running.Store(false)
	s.waitIdle()

	box := s.engine.Swap(&engineBox{})
	if box.engine == nil {
		return nil
	}
	if err := box.engine.Close(); err != nil {
		return errors.New(err).
			Component("stretch").
			Category(errors.CategoryStretch).
			Build()
	}
	return nil
}

// waitIdle spins until the callback has left Process. Callers have already
// published the state change the callback checks on entry.
func (s *Stage) waitIdle() {
	for s.busy.Load() {
		runtime.Gosched()
	}
}

// Stats returns the number of engine fallbacks and ring underruns
func (s *Stage) Stats() (fallbacks, underruns uint64) {
	return s.fallbacks.Load(), s.underruns.Load()
}

// Process fills out, an interleaved block, with stretched audio.
func (s *Stage) Process(out []float32) {
	s.busy.Store(true)
	defer s.busy.Store(false)

	if s.closed.Load() {
		clear(out)
		return
	}

	frames := len(out) / s.channels
	for off := 0; off < frames; off += s.blockLength {
		n := min(s.blockLength, frames-off)
		s.step(out[off*s.channels:(off+n)*s.channels], n)
	}
	clear(out[frames*s.channels:])
}

// read pulls one block from the ring into in. An underrun leaves silence.
func (s *Stage) read(in []float32) {
	if !s.ring.Read(in) {
		s.underruns.Add(1)
		if s.recorder != nil {
			s.recorder.RecordUnderrun(metrics.StageStretch)
		}
	}
}

// step renders one block. Ring reads are paced by the tempo ratio, clamped
// to the engine limits, so the engine is fed as fast as it consumes. When the engine still comes up
// short, up to ceil(tempo)+1 further blocks are fed from the ring if
// available. A block the engine produced nothing for carries the input.
func (s *Stage) step(out []float32, frames int) {
	in := s.scratch[:frames*s.channels]

	box := s.engine.Load()
	if box.engine == nil {
		s.read(in)
		copy(out, in)
		return
	}
	if box != s.lastEngine {
		s.lastEngine = box
		s.appliedPitch, s.appliedTempo = 0, 0
		s.owed = 0
	}
	if p := s.pitch.Load(); p != s.appliedPitch {
		box.engine.SetPitch(p)
		s.appliedPitch = p
	}
	if t := s.tempo.Load(); t != s.appliedTempo {
		box.engine.SetTempo(t)
		s.appliedTempo = t
	}

	block := float64(frames)
	pace := min(max(s.appliedTempo, MinRatio), MaxRatio)
	fed := false
	s.owed += block * pace
	for s.owed >= block {
		s.owed -= block
		s.read(in)
		fed = true
		if err := box.engine.Process(in, frames); err != nil {
			s.fallback(out, in, err)
			return
		}
	}

	got, err := box.engine.Retrieve(out, frames)
	if err != nil {
		s.fallback(out, s.fedOrSilence(in, fed), err)
		return
	}
	limit := int(math.Ceil(pace)) + 1
	for extra := 0; got < frames && extra < limit && s.ring.Available() >= frames; extra++ {
		s.ring.Read(in)
		fed = true
		s.owed = max(s.owed-block, 0)
		if err := box.engine.Process(in, frames); err != nil {
			s.fallback(out, in, err)
			return
		}
		n, err := box.engine.Retrieve(out[got*s.channels:], frames-got)
		if err != nil {
			s.fallback(out, in, err)
			return
		}
		got += n
	}

	if got == 0 && fed {
		copy(out, in)
		return
	}
	clear(out[got*s.channels:])
}

func (s *Stage) fedOrSilence(in []float32, fed bool) []float32 {
	if !fed {
		clear(in)
	}
	return in
}

// fallback passes the unprocessed input through.
func (s *Stage) fallback(out, in []float32, err error) {
	copy(out, in)
	s.fallbacks.Add(1)
	if s.recorder != nil {
		s.recorder.RecordStretchFallback()
	}
	s.warn.Do(func() {
		s.log.Warn("stretch engine failed, passing input through",
			logger.Error(err),
			logger.Uint64("fallbacks", s.fallbacks.Load()))
	})
}
