package metronome

import (
	"math"
	"slices"
)

// TimeSignature takes effect at Tick and holds until the next entry.
type TimeSignature struct {
	Tick        int64 `yaml:"tick" json:"tick"`
	Numerator   int   `yaml:"numerator" json:"numerator"`
	Denominator int   `yaml:"denominator" json:"denominator"`
}

// CommonTime is the signature used before the first entry and for an empty map.
var CommonTime = TimeSignature{Numerator: 4, Denominator: 4}

// TempoMap is a time signature map sorted by tick.
type TempoMap []TimeSignature

// Sorted reports whether the entries are in non-decreasing tick order.
func (m TempoMap) Sorted() bool {
	return slices.IsSortedFunc(m, func(a, b TimeSignature) int {
		switch {
		case a.Tick < b.Tick:
			return -1
		case a.Tick > b.Tick:
			return 1
		}
		return 0
	})
}

// At returns the signature in effect at tick and its index. The first entry
// is effective from tick 0 even if it starts later; an empty map yields
// CommonTime with index -1.
func (m TempoMap) At(tick float64) (TimeSignature, int) {
	if len(m) == 0 {
		return CommonTime, -1
	}
	i := 0
	for j := 1; j < len(m); j++ {
		if float64(m[j].Tick) > tick {
			break
		}
		i = j
	}
	sig := m[i]
	if i == 0 {
		sig.Tick = 0
	}
	return sig, i
}

// next returns the tick at which the entry after index i starts, if any.
func (m TempoMap) next(i int) (float64, bool) {
	if i+1 >= len(m) {
		return 0, false
	}
	return float64(m[i+1].Tick), true
}

// BeatTicks returns the length of one beat of sig in ticks, at least 1.
func BeatTicks(ppq int, sig TimeSignature) int64 {
	den := sig.Denominator
	if den <= 0 {
		den = 4
	}
	return max(1, int64(math.Round(float64(ppq)*4/float64(den))))
}

func numerator(sig TimeSignature) int {
	if sig.Numerator <= 0 {
		return 4
	}
	return sig.Numerator
}
