package metronome

import (
	"math"

	"github.com/herrbasan/SoundApp-sub001/internal/formats/wav"
)

const (
	highClickHz = 1760.0
	lowClickHz  = 1320.0
	clickLength = 0.04 // seconds
)

// DefaultClicks synthesizes the built-in accent and beat clicks at sampleRate.
func DefaultClicks(sampleRate int) (high, low *wav.Sample) {
	return synthClick(sampleRate, highClickHz), synthClick(sampleRate, lowClickHz)
}

// synthClick is a mono sine burst with a short linear attack and an
// exponential decay.
func synthClick(sampleRate int, hz float64) *wav.Sample {
	n := int(math.Round(float64(sampleRate) * clickLength))
	attack := max(1, sampleRate/2000)
	data := make([]float32, n)
	for i := range data {
		t := float64(i) / float64(sampleRate)
		env := math.Exp(-t * 90)
		if i < attack {
			env *= float64(i) / float64(attack)
		}
		data[i] = float32(0.8 * env * math.Sin(2*math.Pi*hz*t))
	}
	return &wav.Sample{
		SampleRate: sampleRate,
		BitDepth:   32,
		Float:      true,
		Channels:   [][]float32{data},
	}
}
