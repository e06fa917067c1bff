package output

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// oto allows one context per process
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoErr    error
	otoFormat Config
)

func sharedOtoContext(cfg Config) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   4 * time.Duration(cfg.BlockLength) * time.Second / time.Duration(cfg.SampleRate),
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
		otoFormat = cfg
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoFormat.SampleRate != cfg.SampleRate || otoFormat.Channels != cfg.Channels {
		return nil, errors.Newf("oto context already open at %d Hz x %d channels", otoFormat.SampleRate, otoFormat.Channels).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Context("sample_rate", cfg.SampleRate).
			Build()
	}
	return otoCtx, nil
}

// Oto plays through oto's pull model: the player reads from an io.Reader
// that calls the render function.
type Oto struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	closed bool
}

// pullReader adapts a RenderFunc to io.Reader
type pullReader struct {
	render   RenderFunc
	channels int
	scratch  []float32
}

// Read renders whole frames into p
func (r *pullReader) Read(p []byte) (int, error) {
	frames := len(p) / (bytesPerSample * r.channels)
	n := frames * r.channels
	if n == 0 {
		return 0, nil
	}
	if n > len(r.scratch) {
		r.scratch = make([]float32, n)
	}
	buf := r.scratch[:n]
	r.render(buf)
	putFloats(p, buf)
	return n * bytesPerSample, nil
}

// NewOto opens the process wide oto context
func NewOto(cfg Config, opts ...Option) (*Oto, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	ctx, err := sharedOtoContext(cfg)
	if err != nil {
		return nil, errors.New(err).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Context("operation", "init_context").
			Build()
	}
	if cfg.Device != "" {
		o.log.Warn("oto backend ignores the device setting", logger.String("device", cfg.Device))
	}
	return &Oto{cfg: cfg, log: o.log, ctx: ctx}, nil
}

// Name returns the backend name
func (o *Oto) Name() string { return NameOto }

// Start creates a player pulling from render and starts it
func (o *Oto) Start(render RenderFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return stateError(NameOto, "output backend is closed")
	}
	if o.player != nil {
		return stateError(NameOto, "output backend already started")
	}
	o.player = o.ctx.NewPlayer(&pullReader{
		render:   render,
		channels: o.cfg.Channels,
		scratch:  make([]float32, o.cfg.BlockLength*o.cfg.Channels),
	})
	o.player.Play()
	o.log.Info("playback started",
		logger.Int("sample_rate", o.cfg.SampleRate),
		logger.Int("block_length", o.cfg.BlockLength))
	return nil
}

// Close stops the player. The shared context stays open for the process.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.player == nil {
		return nil
	}
	err := o.player.Close()
	o.player = nil
	if err != nil {
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Context("operation", "close_player").
			Build()
	}
	return nil
}
