// Package metrics provides Prometheus collectors for the audio engine, the
// loudness analyzer and the binary parsers.
package metrics

// Metric namespace shared by every collector
const namespace = "soundcore"

// Stage label values
const (
	StageStretch = "stretch"
	StageMixer   = "mixer"
	StageScope   = "scope"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

// Format label values
const (
	FormatWAV  = "wav"
	FormatMIDI = "midi"
)

// Analyzer mode label values
const (
	ModeMinimal = "minimal"
	ModeFull    = "full"
)

// Buckets for the per-block render histogram: 10µs to ~20ms
var renderBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005,
	0.001, 0.0025, 0.005, 0.01, 0.02,
}
