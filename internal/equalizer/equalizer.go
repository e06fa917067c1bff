// Package equalizer provides biquad filters based on Robert Bristow-Johnson's
// audio EQ cookbook, plus the two-stage K-weighting pre-filter of ITU-R BS.1770.
//
// Filters keep their own delay-line state and are not safe for concurrent use;
// each channel of a signal needs its own Filter.
package equalizer

import (
	"math"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// FilterName represents the kind of digital filter.
type FilterName int

// FilterName constants are digital filter names.
const (
	Undefined FilterName = iota
	LowPass
	HighPass
	HighShelf
	KShelf
	KHighPass
)

// K-weighting design constants. These reproduce the 48 kHz coefficient table
// of BS.1770 at any sample rate.
const (
	kShelfFrequency    = 1681.974450955533
	kShelfGainDB       = 3.999843853973347
	kShelfQ            = 0.7071752369554196
	kShelfVbExponent   = 0.4996667741545416
	kHighPassFrequency = 38.13547087602444
	kHighPassQ         = 0.5003270373238773
)

// Filter holds the digital filter parameters.
type Filter struct {
	name FilterName

	// state variables, one slot per pass
	in1  []float64
	in2  []float64
	out1 []float64
	out2 []float64

	passes int

	// coefficients normalized by a0
	b0a0, b1a0, b2a0, a1a0, a2a0 float64
}

// IsZero returns true when the f is not initialized.
func (f *Filter) IsZero() bool {
	return f == nil || f.name == Undefined
}

// Name returns the filter kind
func (f *Filter) Name() FilterName {
	return f.name
}

// NewFilter creates a new Filter with the specified number of passes
func NewFilter(name FilterName, a0, a1, a2, b0, b1, b2 float64, passes int) *Filter {
	return &Filter{
		name:   name,
		passes: passes,
		in1:    make([]float64, passes),
		in2:    make([]float64, passes),
		out1:   make([]float64, passes),
		out2:   make([]float64, passes),
		b0a0:   b0 / a0,
		b1a0:   b1 / a0,
		b2a0:   b2 / a0,
		a1a0:   a1 / a0,
		a2a0:   a2 / a0,
	}
}

// Coefficients returns the normalized coefficients b0, b1, b2, a1, a2.
func (f *Filter) Coefficients() (b0, b1, b2, a1, a2 float64) {
	return f.b0a0, f.b1a0, f.b2a0, f.a1a0, f.a2a0
}

// Reset clears the delay lines.
func (f *Filter) Reset() {
	clear(f.in1)
	clear(f.in2)
	clear(f.out1)
	clear(f.out2)
}

// Process filters a single sample through every pass.
func (f *Filter) Process(x float64) float64 {
	for p := range f.passes {
		y := f.b0a0*x + f.b1a0*f.in1[p] + f.b2a0*f.in2[p] -
			f.a1a0*f.out1[p] - f.a2a0*f.out2[p]

		f.in2[p] = f.in1[p]
		f.in1[p] = x
		f.out2[p] = f.out1[p]
		f.out1[p] = y
		x = y
	}
	return x
}

// ApplyBatch applies the filter to a batch of samples in place
func (f *Filter) ApplyBatch(input []float64) {
	for p := range f.passes {
		for i := range input {
			output := f.b0a0*input[i] + f.b1a0*f.in1[p] + f.b2a0*f.in2[p] -
				f.a1a0*f.out1[p] - f.a2a0*f.out2[p]

			f.in2[p] = f.in1[p]
			f.in1[p] = input[i]
			f.out2[p] = f.out1[p]
			f.out1[p] = output

			input[i] = output
		}
	}
}

func validate(sampleRate, frequency, q float64, passes int) error {
	switch {
	case passes < 1:
		return errors.Newf("passes must be 1 or greater").
			Category(errors.CategoryValidation).
			Context("passes", passes).
			Build()
	case sampleRate <= 0:
		return errors.Newf("sample rate must be positive").
			Category(errors.CategoryValidation).
			Context("sample_rate", sampleRate).
			Build()
	case frequency <= 0 || frequency >= sampleRate/2:
		return errors.Newf("frequency %.2f Hz out of range for sample rate %.0f", frequency, sampleRate).
			Category(errors.CategoryValidation).
			Build()
	case q <= 0:
		return errors.Newf("q must be greater than 0").
			Category(errors.CategoryValidation).
			Context("q", q).
			Build()
	}
	return nil
}

// NewLowPass returns the low-pass filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 44100.0
//   - frequency ... Cut off frequency in Hz.
//   - q ... Q value.
//   - passes ... Number of passes (1 = 12dB/oct, 2 = 24dB/oct)
func NewLowPass(sampleRate, frequency, q float64, passes int) (*Filter, error) {
	if err := validate(sampleRate, frequency, q, passes); err != nil {
		return nil, err
	}

	w0 := 2.0 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	cos := math.Cos(w0)

	return NewFilter(
		LowPass,
		1.0+alpha,
		-2.0*cos,
		1.0-alpha,
		(1.0-cos)/2.0,
		1.0-cos,
		(1.0-cos)/2.0,
		passes,
	), nil
}

// NewHighPass returns the high-pass filter. Parameters as NewLowPass.
func NewHighPass(sampleRate, frequency, q float64, passes int) (*Filter, error) {
	if err := validate(sampleRate, frequency, q, passes); err != nil {
		return nil, err
	}

	w0 := 2.0 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	cos := math.Cos(w0)

	return NewFilter(
		HighPass,
		1.0+alpha,
		-2.0*cos,
		1.0-alpha,
		(1.0+cos)/2.0,
		-1.0*(1.0+cos),
		(1.0+cos)/2.0,
		passes,
	), nil
}

// NewHighShelf returns the high-shelf filter with gain in dB.
func NewHighShelf(sampleRate, frequency, q, gain float64, passes int) (*Filter, error) {
	if err := validate(sampleRate, frequency, q, passes); err != nil {
		return nil, err
	}

	w0 := 2.0 * math.Pi * frequency / sampleRate
	a := math.Pow(10.0, gain/40.0)
	beta := math.Sqrt(a) / q
	cos, sin := math.Cos(w0), math.Sin(w0)

	return NewFilter(
		HighShelf,
		(a+1.0)-(a-1.0)*cos+beta*sin,
		2.0*((a-1.0)-(a+1.0)*cos),
		(a+1.0)-(a-1.0)*cos-beta*sin,
		a*((a+1.0)+(a-1.0)*cos+beta*sin),
		-2.0*a*((a-1.0)+(a+1.0)*cos),
		a*((a+1.0)+(a-1.0)*cos-beta*sin),
		passes,
	), nil
}

// NewKShelf returns stage 1 of the K-weighting pre-filter, a +4 dB high
// shelf modelling the acoustic effect of the head.
func NewKShelf(sampleRate float64) (*Filter, error) {
	if err := validate(sampleRate, kShelfFrequency, kShelfQ, 1); err != nil {
		return nil, err
	}

	k := math.Tan(math.Pi * kShelfFrequency / sampleRate)
	vh := math.Pow(10.0, kShelfGainDB/20.0)
	vb := math.Pow(vh, kShelfVbExponent)
	a0 := 1.0 + k/kShelfQ + k*k

	return NewFilter(
		KShelf,
		a0,
		2.0*(k*k-1.0),
		1.0-k/kShelfQ+k*k,
		vh+vb*k/kShelfQ+k*k,
		2.0*(k*k-vh),
		vh-vb*k/kShelfQ+k*k,
		1,
	), nil
}

// NewKHighPass returns stage 2 of the K-weighting pre-filter, the RLB
// high-pass.
func NewKHighPass(sampleRate float64) (*Filter, error) {
	if err := validate(sampleRate, kHighPassFrequency, kHighPassQ, 1); err != nil {
		return nil, err
	}

	k := math.Tan(math.Pi * kHighPassFrequency / sampleRate)
	a0 := 1.0 + k/kHighPassQ + k*k

	// numerator is left unnormalized: b = [1, -2, 1]
	return NewFilter(
		KHighPass,
		1.0,
		2.0*(k*k-1.0)/a0,
		(1.0-k/kHighPassQ+k*k)/a0,
		1.0,
		-2.0,
		1.0,
		1,
	), nil
}

// FilterChain represents a chain of filters to be applied in sequence.
type FilterChain struct {
	filters []*Filter
}

// NewFilterChain creates and returns a new FilterChain.
func NewFilterChain() *FilterChain {
	return &FilterChain{
		filters: make([]*Filter, 0, 2),
	}
}

// NewKWeighting returns the two K-weighting stages chained for one channel.
func NewKWeighting(sampleRate float64) (*FilterChain, error) {
	shelf, err := NewKShelf(sampleRate)
	if err != nil {
		return nil, err
	}
	highPass, err := NewKHighPass(sampleRate)
	if err != nil {
		return nil, err
	}
	fc := NewFilterChain()
	fc.filters = append(fc.filters, shelf, highPass)
	return fc, nil
}

// AddFilter adds a new filter to the chain.
func (fc *FilterChain) AddFilter(f *Filter) error {
	if f.IsZero() {
		return errors.Newf("cannot add nil or uninitialized filter").
			Category(errors.CategoryValidation).
			Build()
	}
	fc.filters = append(fc.filters, f)
	return nil
}

// Length returns the number of filters in the chain.
func (fc *FilterChain) Length() int {
	return len(fc.filters)
}

// Reset clears the state of every filter in the chain.
func (fc *FilterChain) Reset() {
	for _, f := range fc.filters {
		f.Reset()
	}
}

// Process runs a single sample through the chain.
func (fc *FilterChain) Process(x float64) float64 {
	for _, f := range fc.filters {
		x = f.Process(x)
	}
	return x
}

// ApplyBatch applies all filters in the chain to a batch of input signals.
func (fc *FilterChain) ApplyBatch(input []float64) {
	for _, f := range fc.filters {
		f.ApplyBatch(input)
	}
}
