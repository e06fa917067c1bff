package play

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/engine"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/feeder"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/metronome"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/mixer"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/output"
	"github.com/herrbasan/SoundApp-sub001/internal/conf"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
	"github.com/herrbasan/SoundApp-sub001/internal/loudness"
)

// drainPoll is how often playback checks whether the main track has run dry
const drainPoll = 20 * time.Millisecond

// Options are the command line overrides of the play command
type Options struct {
	Output      string
	Device      string
	Pitch       float64
	Tempo       float64
	Quality     bool
	Metronome   bool
	BPM         float64
	Duration    time.Duration
	ListDevices bool
}

// Command creates the play command, which streams a WAV file through the
// engine to an output backend.
func Command(ctx *app.Context) *cobra.Command {
	var opts Options
	cmd := &cobra.Command{
		Use:   "play [file.wav]",
		Short: "Play a WAV file through the time-stretch, mixer and metronome stages",
		Long: `Play a WAV file through the real-time engine.

Pitch, tempo and metronome settings are re-applied when the config file changes.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.ListDevices {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ListDevices {
				return listDevices(cmd, ctx)
			}
			s := *ctx.Settings
			applyFlags(cmd, &s, opts)
			return Play(cmd.Context(), ctx, &s, args[0], opts.Duration)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Output, "output", "o", "", "Output backend: malgo, oto or null (default audio.output)")
	flags.StringVar(&opts.Device, "device", "", "Playback device name or id (default audio.device)")
	flags.Float64VarP(&opts.Pitch, "pitch", "p", 1, "Pitch ratio")
	flags.Float64VarP(&opts.Tempo, "tempo", "t", 1, "Tempo ratio")
	flags.BoolVarP(&opts.Quality, "quality", "q", false, "Use the high quality stretcher")
	flags.BoolVarP(&opts.Metronome, "metronome", "m", false, "Enable the metronome")
	flags.Float64Var(&opts.BPM, "bpm", 0, "Metronome tempo in beats per minute (default metronome.bpm)")
	flags.DurationVar(&opts.Duration, "duration", 0, "Stop after this long, 0 plays to the end")
	flags.BoolVar(&opts.ListDevices, "list-devices", false, "List playback devices and exit")
	return cmd
}

// applyFlags copies the flags the user set over the loaded settings
func applyFlags(cmd *cobra.Command, s *conf.Settings, opts Options) {
	changed := cmd.Flags().Changed
	if opts.Output != "" {
		s.Audio.Output = opts.Output
	}
	if opts.Device != "" {
		s.Audio.Device = opts.Device
	}
	if changed("pitch") {
		s.Stretch.Pitch = opts.Pitch
	}
	if changed("tempo") {
		s.Stretch.Tempo = opts.Tempo
	}
	if changed("quality") {
		s.Stretch.Quality = opts.Quality
	}
	if changed("metronome") {
		s.Metronome.Enabled = opts.Metronome
	}
	if opts.BPM > 0 {
		s.Metronome.BPM = opts.BPM
	}
}

func listDevices(cmd *cobra.Command, ctx *app.Context) error {
	m, err := output.NewMalgo(output.Config{
		SampleRate:  ctx.Settings.Audio.SampleRate,
		Channels:    audiocore.Channels,
		BlockLength: ctx.Settings.Audio.BlockLength,
	}, output.WithLogger(ctx.Log("output")))
	if err != nil {
		return err
	}
	defer m.Close()

	names, err := m.Devices()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

// Play streams the WAV file at path until it has been rendered, limit
// elapses (when positive) or ctx is done.
func Play(ctx context.Context, appCtx *app.Context, s *conf.Settings, path string, limit time.Duration) error {
	log := appCtx.Log("play")

	f, err := os.Open(path) //nolint:gosec // path from the command line
	if err != nil {
		return errors.FileError(err, path, 0)
	}
	defer f.Close()

	src, err := feeder.OpenWAV(f)
	if err != nil {
		return err
	}

	eng, err := newEngine(appCtx, s, src.SampleRate)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn("engine close failed", logger.Error(err))
		}
	}()

	if err := configureMetronome(eng, s); err != nil {
		return err
	}

	out, err := output.New(s.Audio.Output, output.Config{
		SampleRate:  src.SampleRate,
		Channels:    audiocore.Channels,
		BlockLength: s.Audio.BlockLength,
		Device:      s.Audio.Device,
	}, output.WithLogger(appCtx.Log("output")))
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn("output close failed", logger.Error(err))
		}
	}()

	live := &liveEngine{eng: eng, log: log}
	defer live.detach()
	if appCtx.Loader.ConfigFileUsed() != "" {
		appCtx.Loader.Watch(live.apply)
	}

	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	track, err := eng.Feeder(0)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return eng.Run(gctx, handlers(log))
	})
	// unblocks a Stream parked on a full feeder
	g.Go(func() error {
		<-gctx.Done()
		return track.Close()
	})

	if err := eng.Start(); err != nil {
		stop()
		return errors.Join(err, g.Wait())
	}
	if err := out.Start(eng.Render); err != nil {
		stop()
		return errors.Join(err, g.Wait())
	}

	duration, _ := src.Duration()
	log.Info("playback started",
		logger.String("file", path),
		logger.String("session", eng.Session()),
		logger.String("output", out.Name()),
		logger.Int("sample_rate", src.SampleRate),
		logger.Int("channels", src.Channels),
		logger.Duration("duration", duration))

	g.Go(func() error {
		defer stop()
		frames, err := src.Stream(gctx, track, audiocore.Channels)
		if err != nil {
			return err
		}
		log.Debug("file streamed", logger.Int("frames", frames))
		return waitDrained(gctx, eng)
	})

	err = g.Wait()
	eng.Stop()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, feeder.ErrClosed) {
		err = nil
	}

	stats := eng.Stats()
	log.Info("playback finished",
		logger.String("session", stats.Session),
		logger.Uint64("blocks", stats.Blocks),
		logger.Uint64("stretch_fallbacks", stats.StretchFallback),
		logger.Uint64("stretch_underruns", stats.StretchUnderrun),
		logger.Uint64("track_underruns", stats.TrackUnderruns),
		logger.Uint64("snapshots", stats.Analysis.Processed),
		logger.Uint64("snapshots_dropped", stats.Analysis.Dropped))
	return err
}

func newEngine(appCtx *app.Context, s *conf.Settings, sampleRate int) (*engine.Engine, error) {
	cfg := engine.ConfigFromSettings(s)
	if sampleRate != cfg.SampleRate {
		cfg.RingFrames = int(s.Audio.RingSeconds * float64(sampleRate))
		cfg.SampleRate = sampleRate
	}

	opts := []engine.Option{engine.WithLogger(appCtx.Log("engine"))}
	if appCtx.Metrics != nil {
		opts = append(opts,
			engine.WithRecorder(appCtx.Metrics.Engine),
			engine.WithAnalyzerRecorder(appCtx.Metrics.Analyzer))
	}
	return engine.New(cfg, opts...)
}

// metronomeConfig builds the full metronome configuration from settings,
// reading click files and the tempo map file when set.
func metronomeConfig(s *conf.Settings) (metronome.Config, error) {
	mc := engine.MetronomeConfig(s)

	if s.Metronome.TempoMapFile != "" {
		sigs, err := conf.LoadTimeSignatures(s.Metronome.TempoMapFile)
		if err != nil {
			return mc, err
		}
		mc.TimeSignatures = make(metronome.TempoMap, 0, len(sigs))
		for _, ts := range sigs {
			mc.TimeSignatures = append(mc.TimeSignatures, metronome.TimeSignature{
				Tick:        ts.Tick,
				Numerator:   ts.Numerator,
				Denominator: ts.Denominator,
			})
		}
	}

	var err error
	if mc.HighBuffer, err = readClick(s.Metronome.HighClick); err != nil {
		return mc, err
	}
	if mc.LowBuffer, err = readClick(s.Metronome.LowClick); err != nil {
		return mc, err
	}
	return mc, nil
}

func readClick(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path from user config
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	return data, nil
}

func configureMetronome(eng *engine.Engine, s *conf.Settings) error {
	mc, err := metronomeConfig(s)
	if err != nil {
		return err
	}
	if err := eng.ConfigureMetronome(mc); err != nil {
		return err
	}
	if s.Metronome.BPM > 0 {
		eng.SetBPM(s.Metronome.BPM)
	}
	return nil
}

// waitDrained returns once the main track feeder and ring are empty and the
// stretch engine's tail has been rendered.
func waitDrained(ctx context.Context, eng *engine.Engine) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	wait := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			return nil
		}
	}
	for eng.Queued(0) > 0 {
		if err := wait(); err != nil {
			return err
		}
	}
	mark := eng.Stats().Blocks
	for eng.Stats().Blocks-mark < eng.TailBlocks() {
		if err := wait(); err != nil {
			return err
		}
	}
	return nil
}

func handlers(log logger.Logger) engine.Handlers {
	meterLog := rate.Sometimes{Interval: time.Second}
	analysisLog := rate.Sometimes{Interval: time.Second}
	return engine.Handlers{
		Meters: func(m mixer.MeterSnapshot) {
			meterLog.Do(func() {
				log.Debug("meters", logger.Any("levels", m.Meters))
			})
		},
		Analysis: func(r loudness.Result) {
			analysisLog.Do(func() {
				fields := []logger.Field{
					logger.Float64("peak_l", r.Peaks[0]),
					logger.Float64("peak_r", r.Peaks[1]),
					logger.Float64("correlation", r.Correlation),
				}
				if r.LUFS != nil {
					fields = append(fields,
						logger.Float64("momentary", r.LUFS.Momentary),
						logger.Float64("short_term", r.LUFS.ShortTerm))
				}
				log.Debug("analysis", fields...)
			})
		},
	}
}

// liveEngine applies config file edits to a playing engine. Edits that
// arrive after playback ends are ignored.
type liveEngine struct {
	mu  sync.Mutex
	eng *engine.Engine
	log logger.Logger
}

func (l *liveEngine) detach() {
	l.mu.Lock()
	l.eng = nil
	l.mu.Unlock()
}

func (l *liveEngine) apply(s *conf.Settings, err error) {
	if err != nil {
		l.log.Warn("config change rejected", logger.Error(err))
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eng == nil {
		return
	}

	l.eng.SetPitch(s.Stretch.Pitch)
	l.eng.SetTempo(s.Stretch.Tempo)
	l.eng.SetMinimalAnalysis(s.Analyzer.Minimal)
	if err := configureMetronome(l.eng, s); err != nil {
		l.log.Warn("metronome change rejected", logger.Error(err))
		return
	}
	l.log.Info("config change applied",
		logger.Float64("pitch", s.Stretch.Pitch),
		logger.Float64("tempo", s.Stretch.Tempo),
		logger.Bool("metronome", s.Metronome.Enabled))
}
