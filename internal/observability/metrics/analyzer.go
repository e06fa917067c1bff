package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AnalyzerMetrics contains Prometheus metrics for the loudness and peak analyzer
type AnalyzerMetrics struct {
	registry *prometheus.Registry

	snapshotsTotal   *prometheus.CounterVec
	droppedTotal     prometheus.Counter
	errorsTotal      prometheus.Counter
	resetsTotal      prometheus.Counter
	analysisDuration prometheus.Histogram

	momentaryLUFS  prometheus.Gauge
	shortTermLUFS  prometheus.Gauge
	integratedLUFS prometheus.Gauge
	loudnessRange  prometheus.Gauge
	peakDBFS       *prometheus.GaugeVec
	correlation    prometheus.Gauge
}

// NewAnalyzerMetrics creates and registers new analyzer metrics
func NewAnalyzerMetrics(registry *prometheus.Registry) (*AnalyzerMetrics, error) {
	m := &AnalyzerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AnalyzerMetrics) initMetrics() {
	m.snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_snapshots_total",
			Help:      "Snapshots analyzed",
		},
		[]string{"mode"}, // mode: minimal, full
	)

	m.droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyzer_snapshots_dropped_total",
		Help:      "Snapshots dropped because the analyzer queue was full",
	})

	m.errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyzer_errors_total",
		Help:      "Snapshots rejected as malformed",
	})

	m.resetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyzer_resets_total",
		Help:      "Loudness state resets, explicit or caused by a sample rate change",
	})

	m.analysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analyzer_duration_seconds",
		Help:      "Time spent analyzing one snapshot",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12),
	})

	m.momentaryLUFS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loudness_momentary_lufs",
		Help:      "Momentary loudness of the latest snapshot",
	})

	m.shortTermLUFS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loudness_short_term_lufs",
		Help:      "Short-term loudness over the rolling window",
	})

	m.integratedLUFS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loudness_integrated_lufs",
		Help:      "Gated integrated loudness since the last reset",
	})

	m.loudnessRange = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loudness_range_lu",
		Help:      "Loudness range (95th minus 10th percentile of short-term history)",
	})

	m.peakDBFS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_dbfs",
			Help:      "Sample peak of the latest snapshot",
		},
		[]string{"channel"}, // channel: left, right
	)

	m.correlation = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stereo_correlation",
		Help:      "Pearson correlation between left and right of the latest snapshot",
	})
}

// RecordSnapshot counts an analyzed snapshot and its duration
func (m *AnalyzerMetrics) RecordSnapshot(minimal bool, d time.Duration) {
	if m == nil {
		return
	}
	mode := ModeFull
	if minimal {
		mode = ModeMinimal
	}
	m.snapshotsTotal.WithLabelValues(mode).Inc()
	m.analysisDuration.Observe(d.Seconds())
}

// RecordDropped counts a snapshot dropped before analysis
func (m *AnalyzerMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

// RecordError counts a rejected snapshot
func (m *AnalyzerMetrics) RecordError() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// RecordReset counts a loudness state reset
func (m *AnalyzerMetrics) RecordReset() {
	if m == nil {
		return
	}
	m.resetsTotal.Inc()
}

// SetLevels publishes peak and correlation readings
func (m *AnalyzerMetrics) SetLevels(peakL, peakR, correlation float64) {
	if m == nil {
		return
	}
	m.peakDBFS.WithLabelValues("left").Set(peakL)
	m.peakDBFS.WithLabelValues("right").Set(peakR)
	m.correlation.Set(correlation)
}

// SetLoudness publishes loudness readings; nil values leave the gauge untouched
func (m *AnalyzerMetrics) SetLoudness(momentary, shortTerm float64, integrated *float64, lra float64) {
	if m == nil {
		return
	}
	m.momentaryLUFS.Set(momentary)
	m.shortTermLUFS.Set(shortTerm)
	if integrated != nil {
		m.integratedLUFS.Set(*integrated)
	}
	m.loudnessRange.Set(lra)
}

// Describe implements the prometheus.Collector interface
func (m *AnalyzerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.snapshotsTotal.Describe(ch)
	m.droppedTotal.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.resetsTotal.Describe(ch)
	m.analysisDuration.Describe(ch)
	m.momentaryLUFS.Describe(ch)
	m.shortTermLUFS.Describe(ch)
	m.integratedLUFS.Describe(ch)
	m.loudnessRange.Describe(ch)
	m.peakDBFS.Describe(ch)
	m.correlation.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *AnalyzerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.snapshotsTotal.Collect(ch)
	m.droppedTotal.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.resetsTotal.Collect(ch)
	m.analysisDuration.Collect(ch)
	m.momentaryLUFS.Collect(ch)
	m.shortTermLUFS.Collect(ch)
	m.integratedLUFS.Collect(ch)
	m.loudnessRange.Collect(ch)
	m.peakDBFS.Collect(ch)
	m.correlation.Collect(ch)
}
