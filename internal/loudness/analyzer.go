// Package loudness computes peak, stereo correlation and BS.1770 style
// loudness figures from periodic byte snapshots of the output signal.
//
// Snapshots carry unsigned 8-bit samples centred on 128, the layout of a
// byte time-domain analyser tap. The Analyzer keeps loudness state across
// calls and is owned by a single goroutine; Worker runs one off the audio path.
package loudness

import (
	"math"
	"slices"
	"time"

	"github.com/herrbasan/SoundApp-sub001/internal/equalizer"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

const (
	// SampleBias is the byte value of a zero sample.
	SampleBias = 128

	// AbsoluteGate excludes near-silent blocks from integration.
	AbsoluteGate = -70.0
	// RelativeGate is applied below the absolute-gated mean.
	RelativeGate = -10.0

	// FloorDB is the initial value of every running maximum.
	FloorDB = -100.0

	shortTermSeconds = 3
	// LRA history is kept for this many short-term windows
	rangeWindows = 20

	msFloor   = 1e-10
	peakFloor = 1e-5
	// below this energy a channel is treated as silent for correlation
	energyFloor = 1e-12
)

// Request is one analysis snapshot. The analyzer does not retain the slices.
type Request struct {
	TimeL      []byte
	TimeR      []byte
	SampleRate int
	Minimal    bool
	Reset      bool
}

// Loudness holds the full-mode loudness figures in LUFS and LU.
type Loudness struct {
	Momentary    float64  `json:"momentary"`
	ShortTerm    float64  `json:"short_term"`
	Integrated   *float64 `json:"integrated,omitempty"`
	Range        float64  `json:"range"`
	ShortTermMax float64  `json:"short_term_max"`
}

// Result is the outcome of one snapshot. When Err is set the other fields are zero.
type Result struct {
	Peaks        [2]float64 `json:"peaks"`
	Correlation  float64    `json:"correlation"`
	LUFS         *Loudness  `json:"lufs"`
	MomentaryMax float64    `json:"momentary_max"`
	PeakMax      float64    `json:"peak_max"`
	Err          error      `json:"-"`
}

// Analyzer holds the loudness state between snapshots.
type Analyzer struct {
	period time.Duration

	sampleRate int
	filters    [2]*equalizer.FilterChain
	scratch    [2][]float64

	shortTerm   []float64 // rolling mean squares, newest last
	rangeHist   []float64 // short-term mean squares for LRA
	gated       []float64 // mean squares above the absolute gate
	momentaryMx float64
	shortTermMx float64
	peakMx      float64
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithSnapshotPeriod fixes the snapshot cadence used to size the 3 s
// short-term window. Without it the window is derived from each snapshot's
// own duration.
func WithSnapshotPeriod(d time.Duration) Option {
	return func(a *Analyzer) {
		a.period = d
	}
}

// NewAnalyzer returns an analyzer in its reset state.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{}
	for _, opt := range opts {
		opt(a)
	}
	a.Reset()
	return a
}

// Reset clears filter state, histories, gated blocks and running maxima.
func (a *Analyzer) Reset() {
	for _, f := range a.filters {
		if f != nil {
			f.Reset()
		}
	}
	a.shortTerm = a.shortTerm[:0]
	a.rangeHist = a.rangeHist[:0]
	a.gated = a.gated[:0]
	a.momentaryMx = FloorDB
	a.shortTermMx = FloorDB
	a.peakMx = FloorDB
}

// SampleRate returns the rate the K-weighting filters are designed for, or
// zero before the first full-mode snapshot.
func (a *Analyzer) SampleRate() int {
	return a.sampleRate
}

func invalid(msg string, args ...any) error {
	return errors.Newf(msg, args...).
		Component("loudness").
		Category(errors.CategorySoundLevel).
		Build()
}

// Analyze processes one snapshot. Malformed snapshots return a Result with
// Err set and leave the loudness state untouched.
func (a *Analyzer) Analyze(req Request) Result {
	switch {
	case len(req.TimeL) == 0 || len(req.TimeR) == 0:
		return Result{Err: invalid("empty snapshot")}
	case len(req.TimeL) != len(req.TimeR):
		return Result{Err: invalid("channel length mismatch: %d vs %d", len(req.TimeL), len(req.TimeR))}
	case req.SampleRate <= 0:
		return Result{Err: invalid("invalid sample rate %d", req.SampleRate)}
	}

	if req.Reset {
		a.Reset()
	}
	if !req.Minimal {
		if err := a.ensureFilters(req.SampleRate); err != nil {
			return Result{Err: err}
		}
	}

	n := len(req.TimeL)
	a.convert(req.TimeL, req.TimeR)

	peakL := peakDB(a.scratch[0][:n])
	peakR := peakDB(a.scratch[1][:n])
	a.peakMx = max(a.peakMx, peakL, peakR)

	res := Result{
		Peaks:        [2]float64{peakL, peakR},
		Correlation:  correlation(a.scratch[0][:n], a.scratch[1][:n]),
		MomentaryMax: a.momentaryMx,
		PeakMax:      a.peakMx,
	}
	if req.Minimal {
		return res
	}

	res.LUFS = a.measure(n, req.SampleRate)
	res.MomentaryMax = a.momentaryMx
	res.PeakMax = a.peakMx
	return res
}

// convert maps bias-centred bytes to [-1, 1) floats in the scratch buffers.
func (a *Analyzer) convert(l, r []byte) {
	n := len(l)
	for c := range a.scratch {
		if cap(a.scratch[c]) < n {
			a.scratch[c] = make([]float64, n)
		}
		a.scratch[c] = a.scratch[c][:n]
	}
	for i := range n {
		a.scratch[0][i] = (float64(l[i]) - SampleBias) / SampleBias
		a.scratch[1][i] = (float64(r[i]) - SampleBias) / SampleBias
	}
}

func (a *Analyzer) ensureFilters(sampleRate int) error {
	if sampleRate == a.sampleRate && a.filters[0] != nil {
		return nil
	}
	var next [2]*equalizer.FilterChain
	for c := range next {
		fc, err := equalizer.NewKWeighting(float64(sampleRate))
		if err != nil {
			return err
		}
		next[c] = fc
	}
	a.filters = next
	a.sampleRate = sampleRate
	a.Reset()
	return nil
}

func (a *Analyzer) measure(n, sampleRate int) *Loudness {
	var ms float64
	for c := range a.scratch {
		buf := a.scratch[c][:n]
		a.filters[c].ApplyBatch(buf)
		var sum float64
		for _, v := range buf {
			sum += v * v
		}
		ms += sum / float64(n)
	}

	momentary := toLUFS(ms)
	a.momentaryMx = max(a.momentaryMx, momentary)
	if momentary > AbsoluteGate {
		a.gated = append(a.gated, ms)
	}

	window := a.windowSize(n, sampleRate)
	a.shortTerm = append(a.shortTerm, ms)
	if over := len(a.shortTerm) - window; over > 0 {
		a.shortTerm = append(a.shortTerm[:0], a.shortTerm[over:]...)
	}
	shortMS := mean(a.shortTerm)
	shortTerm := toLUFS(shortMS)
	a.shortTermMx = max(a.shortTermMx, shortTerm)

	a.rangeHist = append(a.rangeHist, shortMS)
	if over := len(a.rangeHist) - window*rangeWindows; over > 0 {
		a.rangeHist = append(a.rangeHist[:0], a.rangeHist[over:]...)
	}

	return &Loudness{
		Momentary:    momentary,
		ShortTerm:    shortTerm,
		Integrated:   a.integrated(),
		Range:        a.loudnessRange(window),
		ShortTermMax: a.shortTermMx,
	}
}

// windowSize is the number of snapshots covering the short-term window.
func (a *Analyzer) windowSize(n, sampleRate int) int {
	if a.period <= 0 {
		return max(1, (shortTermSeconds*sampleRate+n-1)/n)
	}
	return max(1, int(math.Ceil(float64(shortTermSeconds)/a.period.Seconds())))
}

// integrated is the two-pass gated mean, nil before any block passes the gate.
func (a *Analyzer) integrated() *float64 {
	if len(a.gated) == 0 {
		return nil
	}
	threshold := fromLUFS(toLUFS(mean(a.gated)) + RelativeGate)

	var sum float64
	var count int
	for _, ms := range a.gated {
		if ms >= threshold {
			sum += ms
			count++
		}
	}
	if count == 0 {
		return nil
	}
	v := toLUFS(sum / float64(count))
	return &v
}

func (a *Analyzer) loudnessRange(window int) float64 {
	if len(a.rangeHist) <= window {
		return 0
	}
	sorted := slices.Clone(a.rangeHist)
	slices.Sort(sorted)
	lo := sorted[int(math.Floor(float64(len(sorted))*0.10))]
	hi := sorted[int(math.Floor(float64(len(sorted))*0.95))]
	return toLUFS(hi) - toLUFS(lo)
}

func toLUFS(ms float64) float64 {
	return -0.691 + 10*math.Log10(max(ms, msFloor))
}

func fromLUFS(lufs float64) float64 {
	return math.Pow(10, (lufs+0.691)/10)
}

func peakDB(x []float64) float64 {
	var peak float64
	for _, v := range x {
		peak = max(peak, math.Abs(v))
	}
	return 20 * math.Log10(max(peak, peakFloor))
}

// correlation is the Pearson coefficient of l and r, 1 when either is silent.
func correlation(l, r []float64) float64 {
	ml, mr := mean(l), mean(r)
	var cov, el, er float64
	for i := range l {
		dl, dr := l[i]-ml, r[i]-mr
		cov += dl * dr
		el += dl * dl
		er += dr * dr
	}
	if el < energyFloor || er < energyFloor {
		return 1
	}
	return cov / math.Sqrt(el*er)
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}
