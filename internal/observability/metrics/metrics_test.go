package metrics

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

func TestEngineMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewEngineMetrics(registry)
	require.NoError(t, err)

	m.RecordBlock(200 * time.Microsecond)
	m.RecordBlock(300 * time.Microsecond)
	m.RecordUnderrun(StageStretch)
	m.RecordUnderrun(StageStretch)
	m.RecordUnderrun(StageMixer)
	m.RecordUnderrun("bogus")
	m.RecordClick(true)
	m.RecordClick(false)
	m.RecordClick(false)
	m.SetActiveVoices(3)
	m.RecordFeederWrite(1024)
	m.RecordFeederWrite(-5)
	m.SetRingFill("main", 25, 100)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.blocksTotal), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.underrunsTotal.WithLabelValues(StageStretch)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.underrunsTotal.WithLabelValues(StageMixer)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.clicksTotal.WithLabelValues("high")), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.clicksTotal.WithLabelValues("low")), 0)
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.activeVoices), 0)
	assert.InDelta(t, 1024.0, testutil.ToFloat64(m.feederBytesTotal), 0)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.ringFill.WithLabelValues("main")), 1e-9)

	var metric dto.Metric
	require.NoError(t, m.renderDuration.Write(&metric))
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.0005, metric.GetHistogram().GetSampleSum(), 1e-9)
}

func TestEngineMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.RecordBlock(time.Millisecond)
		m.RecordUnderrun(StageStretch)
		m.RecordStretchFallback()
		m.RecordClick(true)
		m.SetActiveVoices(1)
		m.RecordMeterEmission()
		m.RecordFeederWrite(10)
		m.RecordFeederBackpressure()
		m.SetRingFill("main", 1, 2)
	})
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewAnalyzerMetrics(registry)
	require.NoError(t, err)
	_, err = NewAnalyzerMetrics(registry)
	require.Error(t, err)
}

func TestAnalyzerMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewAnalyzerMetrics(registry)
	require.NoError(t, err)

	m.RecordSnapshot(true, time.Millisecond)
	m.RecordSnapshot(false, time.Millisecond)
	m.RecordSnapshot(false, time.Millisecond)
	m.RecordDropped()
	m.SetLevels(-6, -12, 0.5)

	integrated := -23.0
	m.SetLoudness(-20, -21, &integrated, 4)
	m.SetLoudness(-18, -19, nil, 5)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.snapshotsTotal.WithLabelValues(ModeMinimal)), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.snapshotsTotal.WithLabelValues(ModeFull)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.droppedTotal), 0)
	assert.InDelta(t, -12.0, testutil.ToFloat64(m.peakDBFS.WithLabelValues("right")), 0)
	assert.InDelta(t, -18.0, testutil.ToFloat64(m.momentaryLUFS), 0)
	assert.InDelta(t, -23.0, testutil.ToFloat64(m.integratedLUFS), 0, "nil integrated keeps the last value")
	assert.InDelta(t, 5.0, testutil.ToFloat64(m.loudnessRange), 0)
}

func TestParserMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewParserMetrics(registry)
	require.NoError(t, err)

	m.RecordDecode(FormatWAV, 100, time.Microsecond, nil)
	m.RecordDecode(FormatWAV, 10, time.Microsecond, stderrors.New("bad"))
	m.RecordDecode(FormatMIDI, 50, time.Microsecond, nil)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.decodesTotal.WithLabelValues(FormatWAV, ResultSuccess)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.decodesTotal.WithLabelValues(FormatWAV, ResultError)), 0)
	assert.InDelta(t, 110.0, testutil.ToFloat64(m.decodedBytes.WithLabelValues(FormatWAV)), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues(ResultMiss)), 0)
}

func TestErrorMetricsReportError(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewErrorMetrics(registry)
	require.NoError(t, err)

	ee := errors.Newf("ring too small").
		Component("ringbuffer").
		Category(errors.CategoryBuffer).
		Build()
	m.ReportError(ee)
	m.ReportError(ee)

	critical := errors.Newf("no playback device").
		Component("output").
		Category(errors.CategoryAudioDevice).
		Priority(errors.PriorityCritical).
		Build()
	m.ReportError(critical)

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("ringbuffer", string(errors.CategoryBuffer), errors.PriorityMedium)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("output", string(errors.CategoryAudioDevice), errors.PriorityCritical)), 0)
}
