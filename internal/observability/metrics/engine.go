package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains Prometheus metrics for the real-time render path.
//
// All recording methods are nil-safe and touch only pre-resolved children, so
// they are safe to call from the audio callback: Inc, Add and Observe are
// atomic operations without locks or allocation.
type EngineMetrics struct {
	registry *prometheus.Registry

	blocksTotal           prometheus.Counter
	renderDuration        prometheus.Histogram
	underrunsTotal        *prometheus.CounterVec
	stretchFallbacksTotal prometheus.Counter
	clicksTotal           *prometheus.CounterVec
	activeVoices          prometheus.Gauge
	meterEmissionsTotal   prometheus.Counter
	feederBytesTotal      prometheus.Counter
	feederBackpressure    prometheus.Counter
	ringFill              *prometheus.GaugeVec

	// pre-resolved children for the callback
	stretchUnderruns prometheus.Counter
	mixerUnderruns   prometheus.Counter
	scopeOverruns    prometheus.Counter
	highClicks       prometheus.Counter
	lowClicks        prometheus.Counter
}

// NewEngineMetrics creates and registers new engine metrics
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.blocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_blocks_total",
		Help:      "Total number of rendered audio blocks",
	})

	m.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_render_duration_seconds",
		Help:      "Time spent rendering one audio block",
		Buckets:   renderBuckets,
	})

	m.underrunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_underruns_total",
			Help:      "Blocks replaced by silence because a ring buffer held fewer frames than requested",
		},
		[]string{"stage"}, // stage: stretch, mixer, scope
	)

	m.stretchFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stretch_fallbacks_total",
		Help:      "Blocks passed through unstretched because the stretch engine failed",
	})

	m.clicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metronome_clicks_total",
			Help:      "Metronome clicks scheduled",
		},
		[]string{"accent"}, // accent: high, low
	)

	m.activeVoices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "metronome_active_voices",
		Help:      "Click voices sounding at the end of the last block",
	})

	m.meterEmissionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mixer_meter_emissions_total",
		Help:      "Meter snapshots published by the mixer",
	})

	m.feederBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feeder_bytes_total",
		Help:      "PCM bytes accepted by the feeder staging buffer",
	})

	m.feederBackpressure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feeder_backpressure_total",
		Help:      "Times the feeder writer waited because the staging buffer was full",
	})

	m.ringFill = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_fill_ratio",
			Help:      "Fraction of ring buffer capacity holding unread frames",
		},
		[]string{"ring"},
	)

	m.stretchUnderruns = m.underrunsTotal.WithLabelValues(StageStretch)
	m.mixerUnderruns = m.underrunsTotal.WithLabelValues(StageMixer)
	m.scopeOverruns = m.underrunsTotal.WithLabelValues(StageScope)
	m.highClicks = m.clicksTotal.WithLabelValues("high")
	m.lowClicks = m.clicksTotal.WithLabelValues("low")
}

// RecordBlock counts a rendered block and its render time
func (m *EngineMetrics) RecordBlock(d time.Duration) {
	if m == nil {
		return
	}
	m.blocksTotal.Inc()
	m.renderDuration.Observe(d.Seconds())
}

// RecordUnderrun counts a silent block for the given stage
func (m *EngineMetrics) RecordUnderrun(stage string) {
	if m == nil {
		return
	}
	switch stage {
	case StageStretch:
		m.stretchUnderruns.Inc()
	case StageMixer:
		m.mixerUnderruns.Inc()
	case StageScope:
		m.scopeOverruns.Inc()
	}
}

// RecordStretchFallback counts a pass-through block
func (m *EngineMetrics) RecordStretchFallback() {
	if m == nil {
		return
	}
	m.stretchFallbacksTotal.Inc()
}

// RecordClick counts a scheduled click
func (m *EngineMetrics) RecordClick(accent bool) {
	if m == nil {
		return
	}
	if accent {
		m.highClicks.Inc()
		return
	}
	m.lowClicks.Inc()
}

// SetActiveVoices records the number of sounding click voices
func (m *EngineMetrics) SetActiveVoices(n int) {
	if m == nil {
		return
	}
	m.activeVoices.Set(float64(n))
}

// RecordMeterEmission counts a published meter snapshot
func (m *EngineMetrics) RecordMeterEmission() {
	if m == nil {
		return
	}
	m.meterEmissionsTotal.Inc()
}

// RecordFeederWrite counts bytes staged by the feeder
func (m *EngineMetrics) RecordFeederWrite(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.feederBytesTotal.Add(float64(n))
}

// RecordFeederBackpressure counts a full staging buffer
func (m *EngineMetrics) RecordFeederBackpressure() {
	if m == nil {
		return
	}
	m.feederBackpressure.Inc()
}

// SetRingFill records ring occupancy. Called from the control side only.
func (m *EngineMetrics) SetRingFill(ring string, available, capacity int) {
	if m == nil || capacity <= 0 {
		return
	}
	m.ringFill.WithLabelValues(ring).Set(float64(available) / float64(capacity))
}

// Describe implements the prometheus.Collector interface
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.blocksTotal.Describe(ch)
	m.renderDuration.Describe(ch)
	m.underrunsTotal.Describe(ch)
	m.stretchFallbacksTotal.Describe(ch)
	m.clicksTotal.Describe(ch)
	m.activeVoices.Describe(ch)
	m.meterEmissionsTotal.Describe(ch)
	m.feederBytesTotal.Describe(ch)
	m.feederBackpressure.Describe(ch)
	m.ringFill.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.blocksTotal.Collect(ch)
	m.renderDuration.Collect(ch)
	m.underrunsTotal.Collect(ch)
	m.stretchFallbacksTotal.Collect(ch)
	m.clicksTotal.Collect(ch)
	m.activeVoices.Collect(ch)
	m.meterEmissionsTotal.Collect(ch)
	m.feederBytesTotal.Collect(ch)
	m.feederBackpressure.Collect(ch)
	m.ringFill.Collect(ch)
}
