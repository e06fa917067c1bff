package audiocore

import (
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// Component identifier for audiocore errors
const ComponentAudioCore = "audiocore"

var (
	// ErrNotRunning is returned by operations that need an active session
	ErrNotRunning = errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryState).
			Context("state", "stopped").
			Build()

	// ErrAlreadyRunning is returned when a session is started twice
	ErrAlreadyRunning = errors.New(nil).
				Component(ComponentAudioCore).
				Category(errors.CategoryState).
				Context("state", "running").
				Build()

	// ErrClosed is returned after Close
	ErrClosed = errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryState).
			Context("state", "closed").
			Build()

	// ErrTrackOutOfRange is returned for a track index with no ring
	ErrTrackOutOfRange = errors.New(nil).
				Component(ComponentAudioCore).
				Category(errors.CategoryValidation).
				Context("resource", "track").
				Build()
)
