package loudness

import (
	"math"
	"time"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// ToByte quantizes a float sample to the bias-centred byte layout of a
// snapshot, clamping to [0, 255].
func ToByte(v float32) byte {
	b := math.Round(float64(v)*SampleBias) + SampleBias
	return byte(min(max(b, 0), 255))
}

// Offline runs a continuous interleaved stereo stream through an Analyzer
// in the same windows a live tap would take: window frames every period.
type Offline struct {
	analyzer   *Analyzer
	sampleRate int
	window     int
	hop        int
	minimal    bool

	pending []float32 // interleaved frames of the window being filled
	skip    int       // frames to drop before the next window
	carry   []float32 // left sample of a frame split across writes
	pair    [2]float32
	timeL   []byte
	timeR   []byte

	last      Result
	snapshots int
}

// NewOffline creates an offline runner. window is the snapshot length in
// frames and period the snapshot cadence.
func NewOffline(sampleRate, window int, period time.Duration, minimal bool) (*Offline, error) {
	if sampleRate <= 0 || window <= 0 || period <= 0 {
		return nil, errors.Newf("invalid offline analysis: %d Hz, %d frames every %s", sampleRate, window, period).
			Component("loudness").
			Category(errors.CategoryValidation).
			Build()
	}
	hop := max(1, int(math.Round(period.Seconds()*float64(sampleRate))))
	return &Offline{
		analyzer:   NewAnalyzer(WithSnapshotPeriod(period)),
		sampleRate: sampleRate,
		window:     window,
		hop:        hop,
		minimal:    minimal,
		pending:    make([]float32, 0, window*2),
		timeL:      make([]byte, window),
		timeR:      make([]byte, window),
		carry:      make([]float32, 0, 1),
	}, nil
}

// Write consumes interleaved stereo samples. A frame may be split across
// calls: an odd trailing sample is held until the next Write.
func (o *Offline) Write(samples []float32) error {
	if len(o.carry) > 0 && len(samples) > 0 {
		o.pair = [2]float32{o.carry[0], samples[0]}
		o.carry = o.carry[:0]
		samples = samples[1:]
		if err := o.writeFrames(o.pair[:]); err != nil {
			return err
		}
	}
	if len(samples)%2 == 1 {
		o.carry = append(o.carry[:0], samples[len(samples)-1])
		samples = samples[:len(samples)-1]
	}
	return o.writeFrames(samples)
}

func (o *Offline) writeFrames(frames []float32) error {
	for len(frames) > 0 {
		if o.skip > 0 {
			n := min(o.skip, len(frames)/2)
			frames = frames[n*2:]
			o.skip -= n
			continue
		}

		n := min(o.window*2-len(o.pending), len(frames))
		o.pending = append(o.pending, frames[:n]...)
		frames = frames[n:]
		if len(o.pending) < o.window*2 {
			continue
		}

		if err := o.analyze(); err != nil {
			return err
		}
		if o.hop >= o.window {
			o.pending = o.pending[:0]
			o.skip = o.hop - o.window
		} else {
			o.pending = append(o.pending[:0], o.pending[o.hop*2:]...)
		}
	}
	return nil
}

func (o *Offline) analyze() error {
	for j := range o.window {
		o.timeL[j] = ToByte(o.pending[2*j])
		o.timeR[j] = ToByte(o.pending[2*j+1])
	}
	res := o.analyzer.Analyze(Request{
		TimeL:      o.timeL,
		TimeR:      o.timeR,
		SampleRate: o.sampleRate,
		Minimal:    o.minimal,
	})
	if res.Err != nil {
		return res.Err
	}
	o.last = res
	o.snapshots++
	return nil
}

// Result returns the result of the most recent snapshot
func (o *Offline) Result() Result {
	return o.last
}

// Snapshots returns the number of windows analyzed
func (o *Offline) Snapshots() int {
	return o.snapshots
}
