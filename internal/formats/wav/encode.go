package wav

import (
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// Encode writes s as integer PCM at the given bit depth (16, 24 or 32).
// The encoder seeks back to patch the chunk sizes on close.
func Encode(w io.WriteSeeker, s *Sample, bitDepth int) error {
	if s == nil || len(s.Channels) == 0 || s.SampleRate <= 0 {
		return errors.Newf("cannot encode empty sample").
			Component("wav").
			Category(errors.CategoryValidation).
			Build()
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return errors.Newf("unsupported bit depth %d", bitDepth).
			Component("wav").
			Category(errors.CategoryValidation).
			Build()
	}

	// full-scale is 2^(bits-1); +1.0 saturates one step below it
	scale := math.Ldexp(1, bitDepth-1)
	channels := len(s.Channels)
	frames := s.Frames()
	data := make([]int, frames*channels)
	for c, ch := range s.Channels {
		if len(ch) != frames {
			return errors.Newf("channel %d has %d frames, want %d", c, len(ch), frames).
				Component("wav").
				Category(errors.CategoryValidation).
				Build()
		}
		for i, v := range ch {
			q := math.Round(float64(clamp(v)) * scale)
			data[i*channels+c] = int(min(q, scale-1))
		}
	}

	enc := wav.NewEncoder(w, s.SampleRate, bitDepth, channels, FormatPCM)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: s.SampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).
			Component("wav").
			Category(errors.CategoryFileIO).
			Build()
	}
	if err := enc.Close(); err != nil {
		return errors.New(err).
			Component("wav").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}

// EncodeBytes encodes s into an in-memory WAV buffer.
func EncodeBytes(s *Sample, bitDepth int) ([]byte, error) {
	var b seekableBuffer
	if err := Encode(&b, s, bitDepth); err != nil {
		return nil, err
	}
	return b.buf, nil
}

func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// seekableBuffer is an in-memory io.WriteSeeker.
type seekableBuffer struct {
	buf []byte
	pos int64
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.buf)) {
		b.buf = append(b.buf, make([]byte, end-int64(len(b.buf)))...)
	}
	copy(b.buf[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.NewStd("seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.NewStd("seek: negative position")
	}
	b.pos = abs
	return abs, nil
}
