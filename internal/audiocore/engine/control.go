package engine

import (
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/metronome"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/mixer"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// SetPitch sets the stretch pitch ratio, applied at the next block
func (e *Engine) SetPitch(ratio float64) {
	e.stretch.SetPitch(ratio)
}

// SetTempo sets the stretch tempo ratio, applied at the next block
func (e *Engine) SetTempo(ratio float64) {
	e.stretch.SetTempo(ratio)
}

// SetQuality rebuilds the stretch engine. It fails while a session runs.
func (e *Engine) SetQuality(quality bool) error {
	return e.stretch.SetQuality(quality)
}

// ConfigureMixer replaces the mixer track arena
func (e *Engine) ConfigureMixer(maxTracks int) error {
	return e.mixer.Configure(maxTracks)
}

// SetTrack updates the gains or mute of one track. Out of range indices are ignored.
func (e *Engine) SetTrack(u mixer.TrackUpdate) bool {
	return e.mixer.SetTrack(u)
}

// ResetMeters clears the track meters at the next block
func (e *Engine) ResetMeters() {
	e.mixer.ResetMeters()
}

// Meters returns the last published track meters
func (e *Engine) Meters() mixer.MeterSnapshot {
	return e.mixer.Meters()
}

// ConfigureMetronome applies cfg to the metronome. A PPQ change is mirrored
// on the transport, which rescales its position, and a reset also seeks the
// transport to the reset tick in the new resolution.
func (e *Engine) ConfigureMetronome(cfg metronome.Config) error {
	if cfg.PPQ != nil {
		e.clock.SetPPQ(*cfg.PPQ)
	}
	if cfg.Reset {
		e.clock.Seek(cfg.ResetTick)
	}
	err := e.metronome.Configure(cfg)
	if err != nil {
		e.log.Warn("metronome configuration partially applied", logger.Error(err))
	}
	return err
}

// SetBPM changes the transport tempo
func (e *Engine) SetBPM(bpm float64) {
	e.clock.SetBPM(bpm)
}

// SetMinimalAnalysis switches the analyzer between peak-only and full loudness snapshots
func (e *Engine) SetMinimalAnalysis(minimal bool) {
	e.minimal.Store(minimal)
}
