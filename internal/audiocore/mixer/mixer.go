// Package mixer sums per-track stereo blocks with per-channel gains and
// meters each track with a band-limited envelope follower.
//
// Control calls (Configure, SetTrack, ResetMeters) may come from any
// goroutine. Process runs inside the audio callback and never blocks or
// allocates. Meter levels leave the callback through atomic cells and a
// one-slot notify channel that Run drains.
package mixer

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

const (
	// MaxTracks bounds the arena size accepted by Configure.
	MaxTracks = 64

	hpCoeff      = 0.97
	lpCoeff      = 0.35
	meterRelease = 0.985
	meterFloor   = 1e-4

	meterRateHz    = 60
	minMeterFrames = 128
	defaultTracks  = 1
)

type track struct {
	left  audiocore.Float32
	right audiocore.Float32
	mute  atomic.Bool

	// published meter, written by the callback
	level audiocore.Float32

	// owned by the callback
	hp, lp, prev float32
	meter        float32
}

type arena struct {
	tracks []track
}

func newArena(n int) *arena {
	a := &arena{tracks: make([]track, n)}
	for i := range a.tracks {
		a.tracks[i].left.Store(1)
		a.tracks[i].right.Store(1)
	}
	return a
}

// TrackUpdate changes the fields that are set; nil fields keep their value.
type TrackUpdate struct {
	Index int
	Left  *float32
	Right *float32
	Mute  *bool
}

// MeterSnapshot is a copy of the track meters at one emission.
type MeterSnapshot struct {
	Meters []float32
}

// Recorder receives meter emission counts
type Recorder interface {
	RecordMeterEmission()
}

// Mixer is the multi-track mixing stage
type Mixer struct {
	arena      atomic.Pointer[arena]
	resetMeter atomic.Bool
	notify     chan struct{}
	recorder   Recorder

	interval int // frames between meter emissions
	elapsed  int // owned by the callback
}

// Option configures a Mixer
type Option func(*Mixer)

// WithTracks sets the initial arena size
func WithTracks(n int) Option {
	return func(m *Mixer) {
		if n > 0 && n <= MaxTracks {
			m.arena.Store(newArena(n))
		}
	}
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(m *Mixer) {
		m.recorder = r
	}
}

// WithMeterRate overrides the emission cadence. minFrames bounds the
// interval from below.
func WithMeterRate(sampleRate, hz, minFrames int) Option {
	return func(m *Mixer) {
		m.interval = MeterInterval(sampleRate, hz, minFrames)
	}
}

// MeterInterval returns max(minFrames, round(sampleRate/hz)).
func MeterInterval(sampleRate, hz, minFrames int) int {
	if hz <= 0 {
		hz = meterRateHz
	}
	return max(minFrames, int(math.Round(float64(sampleRate)/float64(hz))))
}

// New creates a mixer with one track.
func New(sampleRate int, opts ...Option) *Mixer {
	m := &Mixer{
		notify:   make(chan struct{}, 1),
		interval: MeterInterval(sampleRate, meterRateHz, minMeterFrames),
	}
	m.arena.Store(newArena(defaultTracks))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configure replaces the track arena. Every gain returns to unity and every
// mute to off. An out-of-range count is rejected and the arena is kept.
func (m *Mixer) Configure(maxTracks int) error {
	if maxTracks < 1 || maxTracks > MaxTracks {
		return errors.Newf("track count %d out of range [1, %d]", maxTracks, MaxTracks).
			Component("mixer").
			Category(errors.CategoryValidation).
			Build()
	}
	m.arena.Store(newArena(maxTracks))
	return nil
}

// Tracks returns the current arena size
func (m *Mixer) Tracks() int {
	return len(m.arena.Load().tracks)
}

// Interval returns the number of frames between meter emissions
func (m *Mixer) Interval() int {
	return m.interval
}

// SetTrack applies u and reports whether the index was in range. Out of
// range updates are ignored.
func (m *Mixer) SetTrack(u TrackUpdate) bool {
	a := m.arena.Load()
	if u.Index < 0 || u.Index >= len(a.tracks) {
		return false
	}
	t := &a.tracks[u.Index]
	if u.Left != nil {
		t.left.Store(*u.Left)
	}
	if u.Right != nil {
		t.right.Store(*u.Right)
	}
	if u.Mute != nil {
		t.mute.Store(*u.Mute)
	}
	return true
}

// ResetMeters zeroes every meter at the next block boundary.
func (m *Mixer) ResetMeters() {
	m.resetMeter.Store(true)
}

// Process mixes inputs into outL and outR. inputs[i] is the interleaved
// stereo block of track i; missing or short inputs count as silence.
func (m *Mixer) Process(inputs [][]float32, outL, outR []float32) {
	clear(outL)
	clear(outR)
	n := min(len(outL), len(outR))

	a := m.arena.Load()
	reset := m.resetMeter.Swap(false)

	for i := range a.tracks {
		t := &a.tracks[i]
		if reset {
			t.meter = 0
		}
		if t.mute.Load() {
			t.meter = 0
			t.hp, t.lp, t.prev = 0, 0, 0
			continue
		}

		var in []float32
		if i < len(inputs) && len(inputs[i]) >= 2*n {
			in = inputs[i]
		}
		lg, rg := t.left.Load(), t.right.Load()

		var peak float32
		hp, lp, prev := t.hp, t.lp, t.prev
		for j := range n {
			var l, r float32
			if in != nil {
				l, r = in[2*j], in[2*j+1]
			}
			outL[j] += l * lg
			outR[j] += r * rg

			mid := (l + r) * 0.5
			hp = hpCoeff * (hp + mid - prev)
			prev = mid
			lp += lpCoeff * (hp - lp)
			if v := abs32(lp); v > peak {
				peak = v
			}
		}
		t.hp, t.lp, t.prev = hp, lp, prev

		if peak >= t.meter {
			t.meter = peak
		} else {
			t.meter *= meterRelease
		}
		if t.meter < meterFloor {
			t.meter = 0
		}
	}

	m.elapsed += n
	if m.elapsed < m.interval {
		return
	}
	m.elapsed = 0
	for i := range a.tracks {
		a.tracks[i].level.Store(a.tracks[i].meter)
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Meters copies the most recently published meter levels.
func (m *Mixer) Meters() MeterSnapshot {
	a := m.arena.Load()
	s := MeterSnapshot{Meters: make([]float32, len(a.tracks))}
	for i := range a.tracks {
		s.Meters[i] = a.tracks[i].level.Load()
	}
	return s
}

// Run delivers a MeterSnapshot to emit after every emission until ctx is
// done. Emissions that arrive while emit is busy are coalesced.
func (m *Mixer) Run(ctx context.Context, emit func(MeterSnapshot)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.notify:
			if m.recorder != nil {
				m.recorder.RecordMeterEmission()
			}
			emit(m.Meters())
		}
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
