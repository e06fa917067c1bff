package stretch

import (
	"math"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// Block sizes selected by the quality flag
const (
	FastBlockSize    = 1024
	QualityBlockSize = 4096
)

// Ratio limits accepted by the overlap-add engine
const (
	MinRatio = 0.25
	MaxRatio = 4.0
)

// ErrEngineClosed is returned by an engine used after Close
var ErrEngineClosed = errors.NewStd("stretch engine closed")

// Engine is the time-stretch processor boundary. Implementations are used by
// one goroutine at a time and must not allocate in Process or Retrieve.
type Engine interface {
	SetPitch(ratio float64)
	SetTempo(ratio float64)
	// Process queues frames of interleaved input.
	Process(in []float32, frames int) error
	// Retrieve moves at most maxFrames processed frames into out and
	// returns how many it moved.
	Retrieve(out []float32, maxFrames int) (int, error)
	Close() error
}

// EngineFactory builds an engine for the given channel count and quality.
type EngineFactory func(channels int, quality bool) (Engine, error)

// BlockSize returns the engine block size for the quality flag
func BlockSize(quality bool) int {
	if quality {
		return QualityBlockSize
	}
	return FastBlockSize
}

// NewOLAFactory returns a factory of overlap-add engines.
func NewOLAFactory() EngineFactory {
	return func(channels int, quality bool) (Engine, error) {
		if channels <= 0 {
			return nil, errors.Newf("invalid channel count %d", channels).
				Component("stretch").
				Category(errors.CategoryValidation).
				Build()
		}
		return NewOLAEngine(channels, BlockSize(quality)), nil
	}
}

// OLAEngine stretches with Hann-windowed grains at 50% synthesis overlap.
// Tempo scales the analysis hop; pitch scales the read step inside each
// grain. All buffers are sized at construction.
type OLAEngine struct {
	channels int
	grain    int // frames per grain
	hop      int // synthesis hop, grain/2

	pitch float64
	tempo float64

	window []float32

	in      []float32
	inLen   int     // buffered input frames
	readPos float64 // analysis position in frames, relative to in[0]

	acc    []float32 // overlap accumulator, one grain long
	out    []float32
	outLen int

	closed bool
}

// NewOLAEngine allocates an engine with grains of blockSize frames.
func NewOLAEngine(channels, blockSize int) *OLAEngine {
	blockSize = max(blockSize, 4) &^ 1
	e := &OLAEngine{
		channels: channels,
		grain:    blockSize,
		hop:      blockSize / 2,
		pitch:    1,
		tempo:    1,
		window:   make([]float32, blockSize),
		in:       make([]float32, (int(MaxRatio)+2)*blockSize*channels),
		acc:      make([]float32, blockSize*channels),
		out:      make([]float32, 2*blockSize*channels),
	}
	for i := range e.window {
		e.window[i] = float32(0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(blockSize)))
	}
	return e
}

// Latency returns the frames of input buffered before the first full grain.
func (e *OLAEngine) Latency() int {
	return e.grain
}

func clampRatio(r float64) float64 {
	if !(r > 0) || math.IsInf(r, 0) {
		return 1
	}
	return min(max(r, MinRatio), MaxRatio)
}

// SetPitch implements Engine
func (e *OLAEngine) SetPitch(ratio float64) { e.pitch = clampRatio(ratio) }

// SetTempo implements Engine
func (e *OLAEngine) SetTempo(ratio float64) { e.tempo = clampRatio(ratio) }

// Process implements Engine. When the input buffer is full the oldest
// frames are dropped.
func (e *OLAEngine) Process(in []float32, frames int) error {
	if e.closed {
		return ErrEngineClosed
	}
	ch := e.channels
	frames = min(frames, len(in)/ch)
	capFrames := len(e.in) / ch
	if frames > capFrames {
		in = in[(frames-capFrames)*ch:]
		frames = capFrames
	}
	if over := e.inLen + frames - capFrames; over > 0 {
		e.consume(over)
	}
	copy(e.in[e.inLen*ch:], in[:frames*ch])
	e.inLen += frames

	e.synthesize()
	return nil
}

// synthesize emits grains while input covers a whole grain and the output
// buffer has room for another hop.
func (e *OLAEngine) synthesize() {
	ch := e.channels
	outCap := len(e.out) / ch
	for {
		span := e.readPos + float64(e.grain-1)*e.pitch
		if int(span)+2 > e.inLen || e.outLen+e.hop > outCap {
			return
		}

		for i := range e.grain {
			src := e.readPos + float64(i)*e.pitch
			i0 := int(src)
			f := float32(src - float64(i0))
			w := e.window[i]
			a := e.in[i0*ch : (i0+1)*ch]
			b := e.in[(i0+1)*ch : (i0+2)*ch]
			dst := e.acc[i*ch : (i+1)*ch]
			for c := range ch {
				dst[c] += (a[c] + (b[c]-a[c])*f) * w
			}
		}

		n := e.hop * ch
		copy(e.out[e.outLen*ch:], e.acc[:n])
		e.outLen += e.hop
		copy(e.acc, e.acc[n:])
		clear(e.acc[len(e.acc)-n:])

		e.readPos += float64(e.hop) * e.tempo
		if drop := int(e.readPos); drop > 0 {
			e.consume(drop)
		}
	}
}

// consume discards n frames from the front of the input buffer.
func (e *OLAEngine) consume(n int) {
	n = min(n, e.inLen)
	ch := e.channels
	copy(e.in, e.in[n*ch:e.inLen*ch])
	e.inLen -= n
	e.readPos = max(0, e.readPos-float64(n))
}

// Retrieve implements Engine
func (e *OLAEngine) Retrieve(out []float32, maxFrames int) (int, error) {
	if e.closed {
		return 0, ErrEngineClosed
	}
	ch := e.channels
	n := min(maxFrames, e.outLen, len(out)/ch)
	if n <= 0 {
		return 0, nil
	}
	copy(out, e.out[:n*ch])
	copy(e.out, e.out[n*ch:e.outLen*ch])
	e.outLen -= n
	return n, nil
}

// Close implements Engine
func (e *OLAEngine) Close() error {
	e.closed = true
	return nil
}

var _ Engine = (*OLAEngine)(nil)
