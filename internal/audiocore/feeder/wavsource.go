package feeder

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// DefaultChunkFrames is the number of frames decoded per read
const DefaultChunkFrames = 4096

// WAVSource streams integer PCM from a WAV file as float32LE frames.
type WAVSource struct {
	decoder    *wav.Decoder
	SampleRate int
	Channels   int
	BitDepth   int

	chunkFrames int
}

// OpenWAV reads the header of r and validates the format.
func OpenWAV(r io.ReadSeeker) (*WAVSource, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("feeder").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if decoder.WavAudioFormat != 1 && decoder.WavAudioFormat != 0xFFFE {
		return nil, errors.Newf("unsupported WAV format tag %d, only integer PCM streams", decoder.WavAudioFormat).
			Component("feeder").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return nil, errors.Newf("unsupported bit depth: %d", decoder.BitDepth).
			Component("feeder").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if decoder.NumChans == 0 || decoder.SampleRate == 0 {
		return nil, errors.Newf("WAV header declares %d channels at %d Hz", decoder.NumChans, decoder.SampleRate).
			Component("feeder").
			Category(errors.CategoryFileParsing).
			Build()
	}
	return &WAVSource{
		decoder:     decoder,
		SampleRate:  int(decoder.SampleRate),
		Channels:    int(decoder.NumChans),
		BitDepth:    int(decoder.BitDepth),
		chunkFrames: DefaultChunkFrames,
	}, nil
}

// Duration returns the playing time declared by the header
func (s *WAVSource) Duration() (time.Duration, error) {
	return s.decoder.Duration()
}

// Stream decodes the rest of the file and writes it to w as interleaved
// float32LE with outChannels channels. Mono sources are duplicated, extra
// source channels are dropped. Cancellation is checked between chunks.
// It returns the number of frames written.
func (s *WAVSource) Stream(ctx context.Context, w io.Writer, outChannels int) (int, error) {
	if outChannels <= 0 {
		return 0, errors.Newf("invalid output channel count %d", outChannels).
			Component("feeder").
			Category(errors.CategoryValidation).
			Build()
	}

	divisor := float32(math.Ldexp(1, s.BitDepth-1))
	buf := &audio.IntBuffer{
		Data:   make([]int, s.chunkFrames*s.Channels),
		Format: &audio.Format{SampleRate: s.SampleRate, NumChannels: s.Channels},
	}
	out := make([]byte, s.chunkFrames*outChannels*bytesPerSample)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.decoder.PCMBuffer(buf)
		if err != nil {
			return total, errors.New(err).
				Component("feeder").
				Category(errors.CategoryFileParsing).
				Context("frames_streamed", total).
				Build()
		}
		if n == 0 {
			return total, nil
		}

		frames := n / s.Channels
		for j := range frames {
			for c := range outChannels {
				v := float32(buf.Data[j*s.Channels+min(c, s.Channels-1)]) / divisor
				binary.LittleEndian.PutUint32(out[(j*outChannels+c)*bytesPerSample:], math.Float32bits(v))
			}
		}
		if _, err := w.Write(out[:frames*outChannels*bytesPerSample]); err != nil {
			return total, err
		}
		total += frames
	}
}
