package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// ParserMetrics contains Prometheus metrics for WAV and MIDI parsing
type ParserMetrics struct {
	registry *prometheus.Registry

	decodesTotal   *prometheus.CounterVec
	decodeDuration *prometheus.HistogramVec
	decodedBytes   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
}

// NewParserMetrics creates and registers new parser metrics
func NewParserMetrics(registry *prometheus.Registry) (*ParserMetrics, error) {
	m := &ParserMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ParserMetrics) initMetrics() {
	m.decodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parser_decodes_total",
			Help:      "Binary decodes by format and result",
		},
		[]string{"format", "result"},
	)

	m.decodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parser_decode_duration_seconds",
			Help:      "Time spent decoding one buffer",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
		[]string{"format"},
	)

	m.decodedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parser_input_bytes_total",
			Help:      "Bytes handed to the parsers",
		},
		[]string{"format"},
	)

	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parser_cache_lookups_total",
			Help:      "Decoded sample cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss
	)
}

// RecordDecode counts one decode attempt
func (m *ParserMetrics) RecordDecode(format string, size int, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.decodesTotal.WithLabelValues(format, result).Inc()
	m.decodeDuration.WithLabelValues(format).Observe(d.Seconds())
	m.decodedBytes.WithLabelValues(format).Add(float64(size))
}

// RecordCacheLookup counts a cache hit or miss
func (m *ParserMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues(ResultHit).Inc()
		return
	}
	m.cacheLookups.WithLabelValues(ResultMiss).Inc()
}

// Describe implements the prometheus.Collector interface
func (m *ParserMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.decodesTotal.Describe(ch)
	m.decodeDuration.Describe(ch)
	m.decodedBytes.Describe(ch)
	m.cacheLookups.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *ParserMetrics) Collect(ch chan<- prometheus.Metric) {
	m.decodesTotal.Collect(ch)
	m.decodeDuration.Collect(ch)
	m.decodedBytes.Collect(ch)
	m.cacheLookups.Collect(ch)
}

// ErrorMetrics counts enhanced errors by component, category and priority
type ErrorMetrics struct {
	errorsTotal *prometheus.CounterVec
}

// NewErrorMetrics creates and registers the error counter
func NewErrorMetrics(registry *prometheus.Registry) (*ErrorMetrics, error) {
	m := &ErrorMetrics{
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors built through the errors package",
			},
			[]string{"component", "category", "priority"},
		),
	}
	if err := registry.Register(m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// ReportError implements errors.Reporter
func (m *ErrorMetrics) ReportError(ee *errors.EnhancedError) {
	priority := ee.GetPriority()
	if priority == "" {
		priority = errors.PriorityMedium
	}
	m.errorsTotal.WithLabelValues(ee.GetComponent(), ee.GetCategory(), priority).Inc()
}

var _ errors.Reporter = (*ErrorMetrics)(nil)
