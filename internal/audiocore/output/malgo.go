package output

import (
	"encoding/hex"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// Malgo plays through miniaudio
type Malgo struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	// owned by the device thread
	scratch []float32
}

// platformBackends picks the native miniaudio backend, nil lets miniaudio choose
func platformBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// NewMalgo initializes a miniaudio context. The device is opened by Start.
func NewMalgo(cfg Config, opts ...Option) (*Malgo, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	m := &Malgo{
		cfg:     cfg,
		log:     o.log,
		scratch: make([]float32, cfg.BlockLength*cfg.Channels),
	}

	ctx, err := malgo.InitContext(platformBackends(), malgo.ContextConfig{}, func(message string) {
		m.log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Priority(errors.PriorityCritical).
			Context("operation", "init_context").
			Build()
	}
	m.ctx = ctx
	return m, nil
}

// Name returns the backend name
func (m *Malgo) Name() string { return NameMalgo }

// Devices lists the playback devices miniaudio can see
func (m *Malgo) Devices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, stateError(NameMalgo, "output backend is closed")
	}
	infos, err := m.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Context("operation", "list_devices").
			Build()
	}
	names := make([]string, 0, len(infos))
	for i := range infos {
		names = append(names, infos[i].Name())
	}
	return names, nil
}

// Start opens the playback device and begins pulling from render
func (m *Malgo) Start(render RenderFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return stateError(NameMalgo, "output backend is closed")
	}
	if m.device != nil {
		return stateError(NameMalgo, "output backend already started")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.cfg.BlockLength)
	deviceConfig.Alsa.NoMMap = 1

	if m.cfg.Device != "" {
		infos, err := m.ctx.Devices(malgo.Playback)
		if err != nil {
			return errors.New(err).
				Component("output").
				Category(errors.CategoryAudioDevice).
				Context("operation", "list_devices").
				Build()
		}
		info, ok := selectDevice(infos, m.cfg.Device)
		if !ok {
			return errors.Newf("no playback device matches %q", m.cfg.Device).
				Component("output").
				Category(errors.CategoryNotFound).
				Context("device", m.cfg.Device).
				Build()
		}
		deviceConfig.Playback.DeviceID = info.ID.Pointer()
	}

	channels := m.cfg.Channels
	onSamples := func(pOutput, _ []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if n > len(m.scratch) {
			m.scratch = make([]float32, n)
		}
		buf := m.scratch[:n]
		render(buf)
		putFloats(pOutput, buf)
	}
	onStop := func() {
		m.log.Warn("playback device stopped")
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
		Stop: onStop,
	})
	if err != nil {
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Priority(errors.PriorityCritical).
			Context("operation", "init_device").
			Context("sample_rate", m.cfg.SampleRate).
			Build()
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Context("operation", "start_device").
			Build()
	}
	m.device = device

	m.log.Info("playback started",
		logger.String("device", m.cfg.Device),
		logger.Int("sample_rate", m.cfg.SampleRate),
		logger.Int("block_length", m.cfg.BlockLength))
	return nil
}

// Close stops the device and releases the context. It is idempotent.
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.log.Warn("failed to stop playback device", logger.Error(err))
		}
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	if err != nil {
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioDevice).
			Context("operation", "uninit_context").
			Build()
	}
	return nil
}

// selectDevice returns the first device whose name contains setting or whose
// decoded id equals it.
func selectDevice(infos []malgo.DeviceInfo, setting string) (malgo.DeviceInfo, bool) {
	for i := range infos {
		if matchesDevice(decodeID(infos[i].ID.String()), infos[i].Name(), setting) {
			return infos[i], true
		}
	}
	return malgo.DeviceInfo{}, false
}

func matchesDevice(decodedID, name, setting string) bool {
	return decodedID == setting || strings.Contains(name, setting)
}

// decodeID turns miniaudio's hex device id into its ASCII form; ids that
// are not hex are returned as is.
func decodeID(id string) string {
	b, err := hex.DecodeString(id)
	if err != nil {
		return id
	}
	return strings.TrimRight(string(b), "\x00")
}
