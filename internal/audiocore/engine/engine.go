// Package engine hosts the real-time chain. It owns the track rings, the
// time-stretch, mixer and metronome stages and the analyzer tap, and renders
// one output block per audio callback.
//
// Render is the only method called from the audio thread. Everything else is
// control side and may be called from any goroutine.
package engine

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/feeder"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/metronome"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/mixer"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/ringbuffer"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/stretch"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/formats/wav"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
	"github.com/herrbasan/SoundApp-sub001/internal/loudness"
	"github.com/herrbasan/SoundApp-sub001/internal/observability/metrics"
)

// Recorder receives the observations of every stage the engine owns.
// *metrics.EngineMetrics satisfies it.
type Recorder interface {
	stretch.Recorder
	mixer.Recorder
	metronome.Recorder
	feeder.Recorder
	RecordBlock(d time.Duration)
}

// Handlers receive the off-callback outputs of Run. Nil handlers discard.
type Handlers struct {
	Meters   func(mixer.MeterSnapshot)
	Analysis func(loudness.Result)
}

// Engine is the real-time audio host
type Engine struct {
	cfg      Config
	log      logger.Logger
	recorder Recorder
	factory  stretch.EngineFactory
	decoder  metronome.Decoder
	analyzer loudness.Recorder
	warn     rate.Sometimes

	rings     []*ringbuffer.RingBuffer // rings[0] feeds the stretch stage
	feeders   []*feeder.Feeder
	stretch   *stretch.Stage
	mixer     *mixer.Mixer
	clock     *metronome.Clock
	metronome *metronome.Metronome
	scope     *ringbuffer.RingBuffer
	worker    *loudness.Worker

	mu            sync.Mutex // serializes Start, Stop, Restart and Close
	running       atomic.Bool
	closed        atomic.Bool
	session       atomic.Pointer[uuid.UUID]
	resetAnalyzer atomic.Bool
	minimal       atomic.Bool

	blocks    atomic.Uint64
	underruns atomic.Uint64

	// owned by the callback
	tracks [][]float32
	inputs [][]float32
	outL   []float32
	outR   []float32
}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder attaches the stage metrics recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithAnalyzerRecorder attaches the loudness worker metrics recorder
func WithAnalyzerRecorder(r loudness.Recorder) Option {
	return func(e *Engine) {
		e.analyzer = r
	}
}

// WithLogger replaces the module logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithStretchFactory replaces the overlap-add stretch engine
func WithStretchFactory(f stretch.EngineFactory) Option {
	return func(e *Engine) {
		e.factory = f
	}
}

// WithClickDecoder sets the decoder for metronome click buffers, typically a *wav.Cache
func WithClickDecoder(d metronome.Decoder) Option {
	return func(e *Engine) {
		e.decoder = d
	}
}

// New builds every stage from cfg. The engine starts stopped.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:  cfg,
		warn: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Global().Module("engine")
	}
	e.minimal.Store(cfg.Analyzer.Minimal)
	id := uuid.New()
	e.session.Store(&id)

	if err := e.buildRings(); err != nil {
		return nil, err
	}
	if err := e.buildStages(); err != nil {
		return nil, err
	}

	maxFrames := cfg.BlockLength
	e.tracks = make([][]float32, cfg.Tracks)
	for i := range e.tracks {
		e.tracks[i] = make([]float32, maxFrames*audiocore.Channels)
	}
	e.inputs = make([][]float32, cfg.Tracks)
	e.outL = make([]float32, maxFrames)
	e.outR = make([]float32, maxFrames)

	e.log.Info("engine created",
		logger.String("session", id.String()),
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("block_length", cfg.BlockLength),
		logger.Int("tracks", cfg.Tracks),
		logger.Bool("analyzer", cfg.Analyzer.Enabled))
	return e, nil
}

func (e *Engine) buildRings() error {
	e.rings = make([]*ringbuffer.RingBuffer, e.cfg.Tracks)
	e.feeders = make([]*feeder.Feeder, e.cfg.Tracks)
	for i := range e.rings {
		ring, err := ringbuffer.New(e.cfg.RingFrames, audiocore.Channels)
		if err != nil {
			return err
		}
		var fopts []feeder.Option
		if e.recorder != nil {
			fopts = append(fopts, feeder.WithRecorder(e.recorder))
		}
		f, err := feeder.New(ring, feeder.Config{Name: trackName(i)}, fopts...)
		if err != nil {
			return err
		}
		e.rings[i] = ring
		e.feeders[i] = f
	}

	if e.cfg.Analyzer.Enabled {
		scope, err := ringbuffer.New(e.cfg.Analyzer.Frames*4, audiocore.Channels)
		if err != nil {
			return err
		}
		e.scope = scope
	}
	return nil
}

func (e *Engine) buildStages() error {
	var sopts []stretch.Option
	sopts = append(sopts,
		stretch.WithBlockLength(e.cfg.BlockLength),
		stretch.WithQuality(e.cfg.Quality),
		stretch.WithLogger(e.log.Module("stretch")))
	if e.recorder != nil {
		sopts = append(sopts, stretch.WithRecorder(e.recorder))
	}
	st, err := stretch.New(e.rings[0], e.factory, sopts...)
	if err != nil {
		return err
	}
	st.SetPitch(e.cfg.Pitch)
	st.SetTempo(e.cfg.Tempo)
	e.stretch = st

	mopts := []mixer.Option{
		mixer.WithTracks(e.cfg.MaxTracks),
		mixer.WithMeterRate(e.cfg.SampleRate, e.cfg.MeterHz, e.cfg.MinMeterFrames),
	}
	if e.recorder != nil {
		mopts = append(mopts, mixer.WithRecorder(e.recorder))
	}
	e.mixer = mixer.New(e.cfg.SampleRate, mopts...)

	e.clock = metronome.NewClock(e.cfg.PPQ, metronome.DefaultTempo)
	if e.cfg.BPM > 0 {
		e.clock.SetBPM(e.cfg.BPM)
	}
	high, low := metronome.DefaultClicks(e.cfg.SampleRate)
	topts := []metronome.Option{
		metronome.WithClicks(high, low),
		metronome.WithLogger(e.log.Module("metronome")),
	}
	if e.decoder != nil {
		topts = append(topts, metronome.WithDecoder(e.decoder))
	} else {
		topts = append(topts, metronome.WithDecoder(wav.NewCache(time.Hour, 0)))
	}
	if e.recorder != nil {
		topts = append(topts, metronome.WithRecorder(e.recorder))
	}
	e.metronome = metronome.New(e.cfg.SampleRate, e.clock, topts...)
	ppq := e.cfg.PPQ
	if err := e.metronome.Configure(metronome.Config{PPQ: &ppq}); err != nil {
		return err
	}

	if e.cfg.Analyzer.Enabled {
		a := loudness.NewAnalyzer(loudness.WithSnapshotPeriod(e.cfg.Analyzer.Interval))
		wopts := []loudness.WorkerOption{loudness.WithLogger(e.log.Module("loudness"))}
		if e.analyzer != nil {
			wopts = append(wopts, loudness.WithRecorder(e.analyzer))
		}
		e.worker = loudness.NewWorker(a, loudness.WorkerConfig{QueueSize: e.cfg.Analyzer.QueueSize}, wopts...)
	}
	return nil
}

func trackName(i int) string {
	if i == 0 {
		return "main"
	}
	return "track" + strconv.Itoa(i)
}

// Render fills out, an interleaved stereo buffer, with the next frames.
// It is called from the audio thread.
func (e *Engine) Render(out []float32) {
	frames := len(out) / audiocore.Channels
	for off := 0; off < frames; off += e.cfg.BlockLength {
		n := min(e.cfg.BlockLength, frames-off)
		e.renderBlock(out[off*audiocore.Channels:(off+n)*audiocore.Channels], n)
	}
	clear(out[frames*audiocore.Channels:])
}

func (e *Engine) renderBlock(out []float32, frames int) {
	start := time.Now()
	samples := frames * audiocore.Channels

	e.stretch.Process(e.tracks[0][:samples])
	e.inputs[0] = e.tracks[0][:samples]
	for i := 1; i < len(e.rings); i++ {
		buf := e.tracks[i][:samples]
		if !e.rings[i].Read(buf) {
			e.underruns.Add(1)
			if e.recorder != nil {
				e.recorder.RecordUnderrun(metrics.StageMixer)
			}
		}
		e.inputs[i] = buf
	}

	outL, outR := e.outL[:frames], e.outR[:frames]
	e.mixer.Process(e.inputs, outL, outR)
	for j := range frames {
		out[2*j] = outL[j]
		out[2*j+1] = outR[j]
	}

	e.metronome.Process(out, frames)
	e.clock.Advance(frames, e.cfg.SampleRate)

	if e.scope != nil {
		e.scope.Write(out)
	}

	e.blocks.Add(1)
	if e.recorder != nil {
		e.recorder.RecordBlock(time.Since(start))
	}
}

// Start begins a session: the stretch stage is marked running and the
// transport starts.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return audiocore.ErrClosed
	}
	if e.running.Load() {
		return audiocore.ErrAlreadyRunning
	}
	if err := e.stretch.Start(); err != nil {
		return err
	}
	e.clock.Start()
	e.running.Store(true)
	e.log.Info("session started", logger.String("session", e.Session()))
	return nil
}

// Stop ends the session. Rendering continues to work; the transport halts.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Swap(false) {
		return
	}
	e.stretch.Stop()
	e.clock.Stop()
	fallbacks, underruns := e.stretch.Stats()
	e.log.Info("session stopped",
		logger.String("session", e.Session()),
		logger.Uint64("blocks", e.blocks.Load()),
		logger.Uint64("stretch_fallbacks", fallbacks),
		logger.Uint64("stretch_underruns", underruns),
		logger.Uint64("track_underruns", e.underruns.Load()))
}

// Restart begins a new stream within the running engine: a new session id,
// the analyzer is reset with the next snapshot and the meters are cleared.
func (e *Engine) Restart() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.New()
	e.session.Store(&id)
	e.resetAnalyzer.Store(true)
	e.mixer.ResetMeters()
	e.log.Info("stream restarted", logger.String("session", id.String()))
	return id.String()
}

// Session returns the current session id
func (e *Engine) Session() string {
	return e.session.Load().String()
}

// Running reports whether a session is active
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Close stops the session, disposes the stretch engine and closes the
// feeders. It is idempotent.
func (e *Engine) Close() error {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Swap(true) {
		return nil
	}
	var errs []error
	if err := e.stretch.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, f := range e.feeders {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Feeder returns the producer side of track i
func (e *Engine) Feeder(i int) (*feeder.Feeder, error) {
	if i < 0 || i >= len(e.feeders) {
		return nil, errors.New(audiocore.ErrTrackOutOfRange).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("track", i).
			Context("tracks", len(e.feeders)).
			Build()
	}
	return e.feeders[i], nil
}

// Queued returns the frames of track i staged in its feeder or waiting in
// its ring. Frames inside the stretch engine are not counted.
func (e *Engine) Queued(i int) int {
	if i < 0 || i >= len(e.feeders) {
		return 0
	}
	return e.feeders[i].Buffered()/(audiocore.Channels*4) + e.rings[i].Available()
}

// TailBlocks returns the blocks to render after the main track runs dry so
// the frames held by the stretch engine reach the output: the engine's
// output buffer plus one grain of input at the current tempo.
func (e *Engine) TailBlocks() uint64 {
	grain := stretch.BlockSize(e.stretch.Quality())
	tempo := max(e.stretch.Tempo(), stretch.MinRatio)
	frames := 2*grain + int(math.Ceil(float64(grain)/tempo))
	return uint64((frames + e.cfg.BlockLength - 1) / e.cfg.BlockLength)
}

// Clock returns the transport the metronome follows
func (e *Engine) Clock() *metronome.Clock {
	return e.clock
}

// Stats is a snapshot of the engine counters
type Stats struct {
	Session         string
	Blocks          uint64
	StretchFallback uint64
	StretchUnderrun uint64
	TrackUnderruns  uint64
	ActiveClicks    int
	Analysis        loudness.WorkerStats
}

// Stats returns the engine counters
func (e *Engine) Stats() Stats {
	fallbacks, underruns := e.stretch.Stats()
	s := Stats{
		Session:         e.Session(),
		Blocks:          e.blocks.Load(),
		StretchFallback: fallbacks,
		StretchUnderrun: underruns,
		TrackUnderruns:  e.underruns.Load(),
		ActiveClicks:    e.metronome.Active(),
	}
	if e.worker != nil {
		s.Analysis = e.worker.Stats()
	}
	return s
}

// Run drives the off-callback workers until ctx is done: meter delivery,
// the feeder pumps and, when enabled, the analyzer tap and worker. It
// returns nil on cancellation.
func (e *Engine) Run(ctx context.Context, h Handlers) error {
	g, ctx := errgroup.WithContext(ctx)

	onMeters := h.Meters
	if onMeters == nil {
		onMeters = func(mixer.MeterSnapshot) {}
	}
	g.Go(func() error { return e.mixer.Run(ctx, onMeters) })

	for _, f := range e.feeders {
		g.Go(func() error { return f.Run(ctx) })
	}

	if e.worker != nil {
		g.Go(func() error { return e.worker.Run(ctx, h.Analysis) })
		g.Go(func() error { return e.runTap(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// runTap takes a snapshot of the freshest scope window every interval and
// submits it to the analysis worker.
func (e *Engine) runTap(ctx context.Context) error {
	frames := e.cfg.Analyzer.Frames
	window := make([]float32, frames*audiocore.Channels)
	timeL := make([]byte, frames)
	timeR := make([]byte, frames)

	ticker := time.NewTicker(e.cfg.Analyzer.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !e.takeSnapshot(window, timeL, timeR) {
			continue
		}
		req := loudness.Request{
			TimeL:      timeL,
			TimeR:      timeR,
			SampleRate: e.cfg.SampleRate,
			Minimal:    e.minimal.Load(),
			Reset:      e.resetAnalyzer.Swap(false),
		}
		if !e.worker.Submit(req) {
			if req.Reset {
				e.resetAnalyzer.Store(true)
			}
			e.warn.Do(func() {
				e.log.Debug("analysis worker busy, snapshot dropped")
			})
		}
	}
}

// takeSnapshot reads the newest window from the scope ring as 8-bit bytes
// centred on 128. It reports false when not enough frames were rendered.
func (e *Engine) takeSnapshot(window []float32, timeL, timeR []byte) bool {
	frames := len(timeL)
	avail := e.scope.Available()
	if avail < frames {
		return false
	}
	e.scope.Skip(avail - frames)
	if !e.scope.Read(window) {
		return false
	}
	for j := range frames {
		timeL[j] = loudness.ToByte(window[2*j])
		timeR[j] = loudness.ToByte(window[2*j+1])
	}
	return true
}
