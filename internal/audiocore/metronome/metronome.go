// Package metronome injects click audio aligned to a time signature map
// expressed in musical ticks, following the position of a Transport.
//
// Configure runs on the control side: it decodes click WAV buffers and
// publishes an immutable settings snapshot. Process runs inside the audio
// callback and owns the scheduling state and the voice arena.
package metronome

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/formats/wav"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

const (
	// MaxVoices bounds the clicks sounding at once; further clicks are dropped.
	MaxVoices = 32

	// DefaultPPQ is the tick resolution used until Configure sets one.
	DefaultPPQ = 96

	defaultHighGain = 1.0
	defaultLowGain  = 0.7

	// tolerance for float drift when snapping a tick onto the beat grid
	gridEpsilon = 1e-9
)

// Decoder turns raw WAV bytes into a sample. *wav.Cache satisfies it.
type Decoder interface {
	Decode(data []byte) (*wav.Sample, error)
}

type decoderFunc func([]byte) (*wav.Sample, error)

func (f decoderFunc) Decode(data []byte) (*wav.Sample, error) { return f(data) }

// Recorder receives click and voice observations
type Recorder interface {
	RecordClick(accent bool)
	SetActiveVoices(n int)
}

// Config changes the fields that are set. Nil pointers and nil slices keep
// the current value.
type Config struct {
	Enabled        *bool
	PPQ            *int
	TimeSignatures TempoMap
	HighGain       *float32
	LowGain        *float32
	HighBuffer     []byte // WAV bytes of the accent click
	LowBuffer      []byte // WAV bytes of the beat click

	// Reset clears sounding clicks and reschedules from ResetTick.
	Reset     bool
	ResetTick float64
}

type settings struct {
	enabled           bool
	ppq               int
	sigs              TempoMap
	highGain, lowGain float32
	high, low         *wav.Sample
}

type voice struct {
	sample *wav.Sample
	gain   float32
	pos    float64
	step   float64
	offset int // first frame of the current block the voice plays in
}

// Metronome is the click injection stage
type Metronome struct {
	sampleRate int
	transport  Transport
	decoder    Decoder
	recorder   Recorder
	log        logger.Logger

	mu           sync.Mutex // serializes Configure
	current      atomic.Pointer[settings]
	resetPending atomic.Bool
	resetTick    audiocore.Float64
	activeCount  atomic.Int32

	// owned by the callback
	applied *settings
	next    float64
	hasNext bool
	last    float64
	hasLast bool
	voices  [MaxVoices]voice
	active  int

	observe func(tick float64, accent bool)
}

// Option configures a Metronome
type Option func(*Metronome)

// WithDecoder replaces the WAV decoder, typically with a *wav.Cache
func WithDecoder(d Decoder) Option {
	return func(m *Metronome) {
		m.decoder = d
	}
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(m *Metronome) {
		m.recorder = r
	}
}

// WithLogger replaces the module logger
func WithLogger(l logger.Logger) Option {
	return func(m *Metronome) {
		m.log = l
	}
}

// WithClicks preloads decoded click samples
func WithClicks(high, low *wav.Sample) Option {
	return func(m *Metronome) {
		s := *m.current.Load()
		s.high, s.low = high, low
		m.current.Store(&s)
	}
}

// New creates a disabled metronome rendering at sampleRate and following
// transport. A nil transport keeps the stage idle.
func New(sampleRate int, transport Transport, opts ...Option) *Metronome {
	m := &Metronome{
		sampleRate: sampleRate,
		transport:  transport,
		decoder:    decoderFunc(wav.Decode),
	}
	m.current.Store(&settings{
		ppq:      DefaultPPQ,
		highGain: defaultHighGain,
		lowGain:  defaultLowGain,
	})
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Global().Module("metronome")
	}
	return m
}

// Configure applies cfg and publishes the result to the audio callback.
// A click buffer that fails to decode keeps the previous sample, a
// non-positive PPQ is ignored and an unsorted map is rejected; every other
// field is still applied and the failures are returned joined.
func (m *Metronome) Configure(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *m.current.Load()
	var errs []error

	if cfg.Enabled != nil {
		s.enabled = *cfg.Enabled
	}
	if cfg.PPQ != nil && *cfg.PPQ > 0 {
		s.ppq = *cfg.PPQ
	}
	if cfg.TimeSignatures != nil {
		if cfg.TimeSignatures.Sorted() {
			s.sigs = slices.Clone(cfg.TimeSignatures)
		} else {
			errs = append(errs, errors.Newf("time signature map is not sorted by tick").
				Component("metronome").
				Category(errors.CategoryValidation).
				Context("entries", len(cfg.TimeSignatures)).
				Build())
		}
	}
	if cfg.HighGain != nil {
		s.highGain = *cfg.HighGain
	}
	if cfg.LowGain != nil {
		s.lowGain = *cfg.LowGain
	}
	if cfg.HighBuffer != nil {
		if sample, err := m.decodeClick("high", cfg.HighBuffer); err != nil {
			errs = append(errs, err)
		} else {
			s.high = sample
		}
	}
	if cfg.LowBuffer != nil {
		if sample, err := m.decodeClick("low", cfg.LowBuffer); err != nil {
			errs = append(errs, err)
		} else {
			s.low = sample
		}
	}

	m.current.Store(&s)
	if cfg.Reset {
		m.resetTick.Store(cfg.ResetTick)
		m.resetPending.Store(true)
	}
	return errors.Join(errs...)
}

func (m *Metronome) decodeClick(which string, data []byte) (*wav.Sample, error) {
	sample, err := m.decoder.Decode(data)
	if err == nil && sample.Frames() == 0 {
		err = errors.NewStd("click sample has no frames")
	}
	if err != nil {
		m.log.Warn("keeping previous click sample",
			logger.String("click", which),
			logger.Int("bytes", len(data)),
			logger.Error(err))
		return nil, errors.New(err).
			Component("metronome").
			Category(errors.CategoryMetronome).
			Context("click", which).
			Build()
	}
	return sample, nil
}

// Enabled reports the published enabled flag
func (m *Metronome) Enabled() bool {
	return m.current.Load().enabled
}

// Active returns the number of clicks sounding after the last block.
func (m *Metronome) Active() int {
	return int(m.activeCount.Load())
}

// Process adds the clicks of the next frames to out, an interleaved stereo
// block.
func (m *Metronome) Process(out []float32, frames int) {
	frames = min(frames, len(out)/2)
	s := m.current.Load()

	if s != m.applied {
		if m.applied != nil && m.applied.ppq != s.ppq {
			m.hasLast = false
		}
		m.hasNext = false
		m.applied = s
	}

	if m.resetPending.Swap(false) {
		m.clearVoices()
		m.hasLast = false
		m.next = m.beatAtOrAfter(s, m.resetTick.Load())
		m.hasNext = true
	}

	if !s.enabled || (s.high == nil && s.low == nil) || m.transport == nil {
		m.idle()
		return
	}
	tick0, ok := m.transport.Tick()
	if !ok {
		m.idle()
		return
	}

	if !m.hasNext || m.next < tick0 {
		m.next = m.beatAtOrAfter(s, tick0)
		if m.hasLast && m.next <= m.last {
			m.next = m.advance(s, m.last)
		}
		m.hasNext = true
	}

	us := m.transport.Tempo()
	if !(us > 0) || math.IsInf(us, 0) {
		us = DefaultTempo
	}
	span := TickSpan(frames, m.sampleRate, us, s.ppq)
	end := tick0 + span
	for span > 0 && m.next <= end {
		sig, _ := s.sigs.At(m.next)
		beat := int64(math.Round((m.next - float64(sig.Tick)) / float64(BeatTicks(s.ppq, sig))))
		accent := beat%int64(numerator(sig)) == 0

		offset := int(math.Floor((m.next - tick0) / span * float64(frames)))
		m.spawn(s, accent, min(max(offset, 0), frames-1))

		m.last, m.hasLast = m.next, true
		m.next = m.advance(s, m.next)
	}

	m.mix(out, frames)
	m.publish()
}

// beatAtOrAfter returns the first beat boundary at or after tick under the
// signature in effect there, clamped to the start of the following signature.
func (m *Metronome) beatAtOrAfter(s *settings, tick float64) float64 {
	sig, idx := s.sigs.At(tick)
	bl := float64(BeatTicks(s.ppq, sig))
	n := math.Ceil((tick-float64(sig.Tick))/bl - gridEpsilon)
	t := float64(sig.Tick) + max(0, n)*bl
	if nt, ok := s.sigs.next(idx); ok && nt < t {
		return nt
	}
	return t
}

// advance returns the beat after tick. A signature change before that beat
// restarts the grid at the change.
func (m *Metronome) advance(s *settings, tick float64) float64 {
	sig, idx := s.sigs.At(tick)
	t := tick + float64(BeatTicks(s.ppq, sig))
	if nt, ok := s.sigs.next(idx); ok && nt < t {
		return nt
	}
	return t
}

func (m *Metronome) spawn(s *settings, accent bool, offset int) {
	sample, gain := s.low, s.lowGain
	if accent {
		sample, gain = s.high, s.highGain
	}
	if sample == nil {
		sample = s.high
		if sample == nil {
			sample = s.low
		}
	}

	if m.recorder != nil {
		m.recorder.RecordClick(accent)
	}
	if m.observe != nil {
		m.observe(m.next, accent)
	}
	if m.active == MaxVoices || sample.Frames() == 0 || m.sampleRate <= 0 {
		return
	}
	m.voices[m.active] = voice{
		sample: sample,
		gain:   gain,
		step:   float64(sample.SampleRate) / float64(m.sampleRate),
		offset: offset,
	}
	m.active++
}

// mix renders every voice into out and compacts the arena in place.
func (m *Metronome) mix(out []float32, frames int) {
	w := 0
	for i := 0; i < m.active; i++ {
		if render(&m.voices[i], out, frames) {
			m.voices[w] = m.voices[i]
			w++
		}
	}
	clear(m.voices[w:m.active])
	m.active = w
}

// render plays v with linear interpolation and reports whether samples remain.
func render(v *voice, out []float32, frames int) bool {
	left := v.sample.Channels[0]
	right := left
	if len(v.sample.Channels) > 1 {
		right = v.sample.Channels[1]
	}
	n := min(len(left), len(right))

	for j := v.offset; j < frames; j++ {
		idx := int(v.pos)
		if idx >= n {
			return false
		}
		frac := float32(v.pos - float64(idx))
		l0, r0 := left[idx], right[idx]
		var l1, r1 float32
		if idx+1 < n {
			l1, r1 = left[idx+1], right[idx+1]
		}
		out[2*j] += (l0 + (l1-l0)*frac) * v.gain
		out[2*j+1] += (r0 + (r1-r0)*frac) * v.gain
		v.pos += v.step
	}
	v.offset = 0
	return int(v.pos) < n
}

func (m *Metronome) idle() {
	m.clearVoices()
	m.hasNext = false
	m.publish()
}

func (m *Metronome) clearVoices() {
	clear(m.voices[:m.active])
	m.active = 0
}

func (m *Metronome) publish() {
	m.activeCount.Store(int32(m.active))
	if m.recorder != nil {
		m.recorder.SetActiveVoices(m.active)
	}
}
