package loudness

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// Recorder receives per-snapshot observations.
type Recorder interface {
	RecordSnapshot(minimal bool, d time.Duration)
	RecordDropped()
	RecordError()
	RecordReset()
	SetLevels(peakL, peakR, correlation float64)
	SetLoudness(momentary, shortTerm float64, integrated *float64, lra float64)
}

// WorkerConfig holds configuration for the analysis worker
type WorkerConfig struct {
	// QueueSize bounds pending snapshots; further submissions are dropped.
	QueueSize int
	// SlowThreshold logs a warning when one snapshot takes longer than this.
	SlowThreshold time.Duration
}

// DefaultWorkerConfig returns default configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:     4,
		SlowThreshold: 20 * time.Millisecond,
	}
}

// Worker analyzes snapshots on its own goroutine. Submit never blocks, so it
// can be driven from a tap that must not stall.
type Worker struct {
	analyzer *Analyzer
	config   WorkerConfig
	queue    chan Request
	recorder Recorder
	log      logger.Logger
	warn     rate.Sometimes

	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// WorkerStats is a snapshot of the worker counters
type WorkerStats struct {
	Processed uint64
	Dropped   uint64
	Failed    uint64
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) WorkerOption {
	return func(w *Worker) {
		w.recorder = r
	}
}

// WithLogger replaces the module logger
func WithLogger(l logger.Logger) WorkerOption {
	return func(w *Worker) {
		w.log = l
	}
}

// NewWorker creates a worker owning analyzer.
func NewWorker(analyzer *Analyzer, config WorkerConfig, opts ...WorkerOption) *Worker {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultWorkerConfig().QueueSize
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = DefaultWorkerConfig().SlowThreshold
	}
	w := &Worker{
		analyzer: analyzer,
		config:   config,
		queue:    make(chan Request, config.QueueSize),
		warn:     rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.Global().Module("loudness")
	}
	return w
}

// Submit queues a copy of req. It returns false and counts a drop when the
// queue is full.
func (w *Worker) Submit(req Request) bool {
	req.TimeL = slices.Clone(req.TimeL)
	req.TimeR = slices.Clone(req.TimeR)
	select {
	case w.queue <- req:
		return true
	default:
		w.dropped.Add(1)
		if w.recorder != nil {
			w.recorder.RecordDropped()
		}
		return false
	}
}

// Run analyzes queued snapshots until ctx is done, passing each result to
// emit. It returns ctx.Err().
func (w *Worker) Run(ctx context.Context, emit func(Result)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.queue:
			res := w.process(req)
			if emit != nil {
				emit(res)
			}
		}
	}
}

func (w *Worker) process(req Request) Result {
	start := time.Now()
	rateBefore := w.analyzer.SampleRate()
	res := w.analyzer.Analyze(req)
	elapsed := time.Since(start)

	if res.Err != nil {
		w.failed.Add(1)
		if w.recorder != nil {
			w.recorder.RecordError()
		}
		w.warn.Do(func() {
			w.log.Warn("rejected analysis snapshot", logger.Error(res.Err))
		})
		return res
	}

	w.processed.Add(1)
	if elapsed > w.config.SlowThreshold {
		w.warn.Do(func() {
			w.log.Warn("slow loudness analysis",
				logger.Duration("duration", elapsed),
				logger.Duration("threshold", w.config.SlowThreshold))
		})
	}

	if w.recorder == nil {
		return res
	}
	if req.Reset || (rateBefore != 0 && rateBefore != w.analyzer.SampleRate()) {
		w.recorder.RecordReset()
	}
	w.recorder.RecordSnapshot(req.Minimal, elapsed)
	w.recorder.SetLevels(res.Peaks[0], res.Peaks[1], res.Correlation)
	if res.LUFS != nil {
		w.recorder.SetLoudness(res.LUFS.Momentary, res.LUFS.ShortTerm, res.LUFS.Integrated, res.LUFS.Range)
	}
	return res
}

// Stats returns the worker counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Processed: w.processed.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
	}
}
