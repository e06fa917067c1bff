package cmd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	plain := errors.NewStd("plain failure")
	assert.Equal(t, "plain failure", ErrorMessage(plain))

	bare := errors.Newf("no context").Component("test").Category(errors.CategoryValidation).Build()
	assert.Equal(t, "no context", ErrorMessage(bare))

	ee := errors.Newf("open device").
		Component("output").
		Category(errors.CategoryAudioDevice).
		Context("sample_rate", 48000).
		Context("operation", "init_device").
		Build()
	wrapped := fmt.Errorf("play: %w", ee)
	assert.Equal(t, "play: open device (operation=init_device sample_rate=48000)", ErrorMessage(wrapped))
}
