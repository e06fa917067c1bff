package midi

import (
	"cmp"
	"slices"
)

// DefaultGapMs splits a channel's activity when events are further apart.
const DefaultGapMs = 4000

// Segment is a run of channel events without a gap longer than the threshold.
type Segment struct {
	StartMs    float64 `yaml:"start_ms" json:"start_ms"`
	EndMs      float64 `yaml:"end_ms" json:"end_ms"`
	EventCount int     `yaml:"events" json:"events"`
}

// Segments groups each channel's events into activity segments. Events are
// ordered by time, ties keeping file order. A gapMs of zero or less uses
// DefaultGapMs.
func Segments(f *File, gapMs float64) map[int][]Segment {
	if gapMs <= 0 {
		gapMs = DefaultGapMs
	}
	out := make(map[int][]Segment)
	if f == nil {
		return out
	}

	events := slices.Clone(f.Events)
	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(a.Ms, b.Ms)
	})

	for i := range events {
		ev := &events[i]
		segs := out[ev.Channel]
		if n := len(segs); n > 0 && ev.Ms-segs[n-1].EndMs <= gapMs {
			segs[n-1].EndMs = ev.Ms
			segs[n-1].EventCount++
			continue
		}
		out[ev.Channel] = append(segs, Segment{StartMs: ev.Ms, EndMs: ev.Ms, EventCount: 1})
	}
	return out
}
