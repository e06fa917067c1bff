// Package wav decodes and encodes RIFF/WAVE buffers.
//
// The decoder is strict: every malformed container yields an error and no
// sample data, so callers on the audio path can keep their previous sample
// without inspecting partial output.
package wav

import (
	"encoding/binary"
	"math"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// Format tags from the fmt chunk
const (
	FormatPCM        = 0x0001
	FormatIEEEFloat  = 0x0003
	FormatExtensible = 0xFFFE
)

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	minFmtSize      = 16
	extensibleSize  = 40
	maxChannels     = 32
)

// Sample is decoded audio, one normalized float slice per channel.
type Sample struct {
	SampleRate int
	BitDepth   int
	Float      bool
	Channels   [][]float32
}

// Frames returns the number of frames per channel.
func (s *Sample) Frames() int {
	if s == nil || len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

// Duration returns the length in seconds.
func (s *Sample) Duration() float64 {
	if s == nil || s.SampleRate <= 0 {
		return 0
	}
	return float64(s.Frames()) / float64(s.SampleRate)
}

type format struct {
	tag        uint16
	channels   int
	sampleRate int
	blockAlign int
	bitDepth   int
}

func malformed(msg string, args ...any) error {
	return errors.Newf("malformed wav: "+msg, args...).
		Component("wav").
		Category(errors.CategoryFileParsing).
		Build()
}

// Decode parses a complete RIFF/WAVE buffer.
func Decode(data []byte) (*Sample, error) {
	if len(data) < riffHeaderSize {
		return nil, malformed("buffer too short for RIFF header (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, malformed("missing RIFF/WAVE tags")
	}
	riffSize := int64(binary.LittleEndian.Uint32(data[4:8]))
	if riffSize+8 > int64(len(data)) {
		return nil, malformed("declared RIFF size %d exceeds buffer of %d bytes", riffSize, len(data))
	}
	body := data[:riffSize+8]

	var (
		fmtChunk *format
		pcm      []byte
	)

	for off := riffHeaderSize; off+chunkHeaderSize <= len(body); {
		id := string(body[off : off+4])
		size := int64(binary.LittleEndian.Uint32(body[off+4 : off+8]))
		start := off + chunkHeaderSize
		end := int64(start) + size
		if end > int64(len(body)) {
			return nil, malformed("chunk %q truncated: declares %d bytes, %d remain", id, size, len(body)-start)
		}
		payload := body[start:end]

		switch id {
		case "fmt ":
			f, err := parseFormat(payload)
			if err != nil {
				return nil, err
			}
			fmtChunk = f
		case "data":
			pcm = payload
		}

		// chunks are word aligned
		off = int(end + size&1)
	}

	if fmtChunk == nil {
		return nil, malformed("missing fmt chunk")
	}
	if pcm == nil {
		return nil, malformed("missing data chunk")
	}
	if len(pcm)%fmtChunk.blockAlign != 0 {
		return nil, malformed("data size %d is not a multiple of block align %d", len(pcm), fmtChunk.blockAlign)
	}

	return decodeSamples(fmtChunk, pcm), nil
}

func parseFormat(p []byte) (*format, error) {
	if len(p) < minFmtSize {
		return nil, malformed("fmt chunk too short (%d bytes)", len(p))
	}
	f := &format{
		tag:        binary.LittleEndian.Uint16(p[0:2]),
		channels:   int(binary.LittleEndian.Uint16(p[2:4])),
		sampleRate: int(binary.LittleEndian.Uint32(p[4:8])),
		blockAlign: int(binary.LittleEndian.Uint16(p[12:14])),
		bitDepth:   int(binary.LittleEndian.Uint16(p[14:16])),
	}

	if f.tag == FormatExtensible {
		if len(p) < extensibleSize {
			return nil, malformed("extensible fmt chunk too short (%d bytes)", len(p))
		}
		// the first two bytes of the sub-format GUID carry the real tag
		f.tag = binary.LittleEndian.Uint16(p[24:26])
	}

	switch {
	case f.channels < 1 || f.channels > maxChannels:
		return nil, malformed("unsupported channel count %d", f.channels)
	case f.sampleRate <= 0:
		return nil, malformed("invalid sample rate %d", f.sampleRate)
	}

	switch f.tag {
	case FormatPCM:
		switch f.bitDepth {
		case 8, 16, 24, 32:
		default:
			return nil, malformed("unsupported PCM bit depth %d", f.bitDepth)
		}
	case FormatIEEEFloat:
		if f.bitDepth != 32 {
			return nil, malformed("unsupported float bit depth %d", f.bitDepth)
		}
	default:
		return nil, malformed("unsupported format tag 0x%04x", f.tag)
	}

	if f.blockAlign != f.channels*f.bitDepth/8 {
		return nil, malformed("block align %d inconsistent with %d channels of %d bits", f.blockAlign, f.channels, f.bitDepth)
	}
	return f, nil
}

func decodeSamples(f *format, pcm []byte) *Sample {
	frames := len(pcm) / f.blockAlign
	s := &Sample{
		SampleRate: f.sampleRate,
		BitDepth:   f.bitDepth,
		Float:      f.tag == FormatIEEEFloat,
		Channels:   make([][]float32, f.channels),
	}
	for c := range s.Channels {
		s.Channels[c] = make([]float32, frames)
	}

	width := f.bitDepth / 8
	read := sampleReader(f)
	for i := range frames {
		base := i * f.blockAlign
		for c := range f.channels {
			at := base + c*width
			s.Channels[c][i] = read(pcm[at : at+width])
		}
	}
	return s
}

func sampleReader(f *format) func([]byte) float32 {
	if f.tag == FormatIEEEFloat {
		return func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	}
	switch f.bitDepth {
	case 8:
		return func(b []byte) float32 {
			return (float32(b[0]) - 128) / 128
		}
	case 16:
		return func(b []byte) float32 {
			return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		}
	case 24:
		return func(b []byte) float32 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			v = v << 8 >> 8 // sign extend
			return float32(v) / 8388608
		}
	default:
		return func(b []byte) float32 {
			return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
		}
	}
}
