package output

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// Null renders on a ticker at the nominal block rate and discards the
// output. It is used for headless runs and tests.
type Null struct {
	cfg    Config
	log    logger.Logger
	period time.Duration

	mu      sync.Mutex
	quit    chan struct{}
	done    chan struct{}
	started bool
	closed  bool

	blocks atomic.Uint64
}

// NewNull creates a headless backend
func NewNull(cfg Config, opts ...Option) (*Null, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Null{
		cfg:    cfg,
		log:    o.log,
		period: time.Duration(float64(cfg.BlockLength) / float64(cfg.SampleRate) * float64(time.Second)),
	}, nil
}

// Name returns the backend name
func (n *Null) Name() string { return NameNull }

// Start begins calling render once per block period
func (n *Null) Start(render RenderFunc) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return stateError(NameNull, "output backend is closed")
	}
	if n.started {
		return stateError(NameNull, "output backend already started")
	}
	n.started = true
	n.quit = make(chan struct{})
	n.done = make(chan struct{})

	buf := make([]float32, n.cfg.BlockLength*n.cfg.Channels)
	go n.loop(render, buf)

	n.log.Debug("null output started",
		logger.Int("sample_rate", n.cfg.SampleRate),
		logger.Duration("period", n.period))
	return nil
}

func (n *Null) loop(render RenderFunc, buf []float32) {
	defer close(n.done)
	ticker := time.NewTicker(n.period)
	defer ticker.Stop()
	for {
		select {
		case <-n.quit:
			return
		case <-ticker.C:
			render(buf)
			n.blocks.Add(1)
		}
	}
}

// Blocks returns the number of blocks rendered so far
func (n *Null) Blocks() uint64 {
	return n.blocks.Load()
}

// Close stops the render loop and waits for it. It is idempotent.
func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.started {
		close(n.quit)
		<-n.done
	}
	return nil
}
