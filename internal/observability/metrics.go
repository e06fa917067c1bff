// Package observability wires the metric collectors of the audio core into a
// single registry.
package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Engine   *metrics.EngineMetrics
	Analyzer *metrics.AnalyzerMetrics
	Parser   *metrics.ParserMetrics
	Errors   *metrics.ErrorMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}

	engineMetrics, err := metrics.NewEngineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Engine metrics: %w", err)
	}

	analyzerMetrics, err := metrics.NewAnalyzerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Analyzer metrics: %w", err)
	}

	parserMetrics, err := metrics.NewParserMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parser metrics: %w", err)
	}

	errorMetrics, err := metrics.NewErrorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Error metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Engine:   engineMetrics,
		Analyzer: analyzerMetrics,
		Parser:   parserMetrics,
		Errors:   errorMetrics,
	}, nil
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// EnableErrorReporting routes every built enhanced error into the error counter.
func (m *Metrics) EnableErrorReporting() {
	errors.SetReporter(m.Errors)
}

// WriteTextfile dumps the registry in the text exposition format.
// Parent directories are created as needed.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}
