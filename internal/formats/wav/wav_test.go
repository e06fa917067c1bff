package wav

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

type chunk struct {
	id   string
	data []byte
}

// buildRIFF assembles a WAVE container from raw chunks, padding odd sizes.
func buildRIFF(chunks ...chunk) []byte {
	body := []byte("WAVE")
	for _, c := range chunks {
		hdr := make([]byte, 8)
		copy(hdr, c.id)
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(c.data)))
		body = append(body, hdr...)
		body = append(body, c.data...)
		if len(c.data)%2 == 1 {
			body = append(body, 0)
		}
	}
	out := make([]byte, 8, 8+len(body))
	copy(out, "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(len(body)))
	return append(out, body...)
}

func fmtChunk(tag uint16, channels, rate, bits int) chunk {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint16(b[0:], tag)
	binary.LittleEndian.PutUint16(b[2:], uint16(channels))
	binary.LittleEndian.PutUint32(b[4:], uint32(rate))
	binary.LittleEndian.PutUint32(b[8:], uint32(rate*channels*bits/8))
	binary.LittleEndian.PutUint16(b[12:], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(b[14:], uint16(bits))
	return chunk{"fmt ", b}
}

func TestDecodeRoundTrip16BitStereo(t *testing.T) {
	t.Parallel()

	const frames = 1000
	in := &Sample{SampleRate: 44100, Channels: [][]float32{make([]float32, frames), make([]float32, frames)}}
	for i := range frames {
		in.Channels[0][i] = float32(math.Sin(float64(i) * 0.013))
		in.Channels[1][i] = float32(0.5 * math.Cos(float64(i)*0.007))
	}
	in.Channels[0][0] = 1
	in.Channels[1][0] = -1

	data, err := EncodeBytes(in, 16)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 44100, out.SampleRate)
	assert.Equal(t, 16, out.BitDepth)
	require.Len(t, out.Channels, 2)
	require.Equal(t, frames, out.Frames())

	for c := range in.Channels {
		for i := range frames {
			require.InDelta(t, in.Channels[c][i], out.Channels[c][i], 1.0/32768, "channel %d frame %d", c, i)
		}
	}
}

func TestDecodeRoundTripWideIntegers(t *testing.T) {
	t.Parallel()

	for _, bits := range []int{24, 32} {
		in := &Sample{SampleRate: 48000, Channels: [][]float32{{0, 0.25, -0.75, 0.999}}}
		data, err := EncodeBytes(in, bits)
		require.NoError(t, err)

		out, err := Decode(data)
		require.NoError(t, err, "bits %d", bits)
		assert.Equal(t, bits, out.BitDepth)
		for i, v := range in.Channels[0] {
			assert.InDelta(t, v, out.Channels[0][i], 1e-6, "bits %d sample %d", bits, i)
		}
	}
}

func TestDecode8BitUnsigned(t *testing.T) {
	t.Parallel()

	data := buildRIFF(fmtChunk(FormatPCM, 1, 8000, 8), chunk{"data", []byte{128, 255, 0, 192}})
	s, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 127.0 / 128, -1, 0.5}, s.Channels[0])
	assert.InDelta(t, 0.0005, s.Duration(), 1e-9)
}

func TestDecodeFloat32(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 16)
	for i, v := range []float32{0.5, -0.5, 1.5, -0.125} {
		binary.LittleEndian.PutUint32(pcm[i*4:], math.Float32bits(v))
	}
	s, err := Decode(buildRIFF(fmtChunk(FormatIEEEFloat, 2, 48000, 32), chunk{"data", pcm}))
	require.NoError(t, err)
	assert.True(t, s.Float)
	assert.Equal(t, []float32{0.5, 1.5}, s.Channels[0])
	assert.Equal(t, []float32{-0.5, -0.125}, s.Channels[1])
}

func TestDecodeExtensibleFormat(t *testing.T) {
	t.Parallel()

	base := fmtChunk(FormatExtensible, 1, 48000, 16)
	ext := make([]byte, 40)
	copy(ext, base.data)
	binary.LittleEndian.PutUint16(ext[16:], 22)
	binary.LittleEndian.PutUint16(ext[18:], 16)
	binary.LittleEndian.PutUint16(ext[24:], FormatPCM)

	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(16384))
	binary.LittleEndian.PutUint16(pcm[2:], 0x8000)

	s, err := Decode(buildRIFF(chunk{"fmt ", ext}, chunk{"data", pcm}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1}, s.Channels[0])
}

func TestDecodeSkipsOddSizedChunks(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x40}
	data := buildRIFF(
		chunk{"LIST", []byte{1, 2, 3}},
		fmtChunk(FormatPCM, 1, 22050, 16),
		chunk{"junk", []byte{9}},
		chunk{"data", pcm},
	)
	s, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 22050, s.SampleRate)
	assert.Equal(t, []float32{0.5}, s.Channels[0])
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	valid := buildRIFF(fmtChunk(FormatPCM, 1, 8000, 16), chunk{"data", []byte{0, 0, 1, 0}})

	truncatedData := buildRIFF(fmtChunk(FormatPCM, 1, 8000, 16), chunk{"data", []byte{0, 0, 1, 0}})
	binary.LittleEndian.PutUint32(truncatedData[len(truncatedData)-8:], 64)

	badAlign := fmtChunk(FormatPCM, 2, 8000, 16)
	binary.LittleEndian.PutUint16(badAlign.data[12:], 3)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte("RIFF")},
		{"wrong riff tag", append([]byte("RIFX"), valid[4:]...)},
		{"wrong wave tag", append(append([]byte{}, valid[:8]...), append([]byte("AVI "), valid[12:]...)...)},
		{"riff size beyond buffer", valid[:len(valid)-2]},
		{"missing fmt", buildRIFF(chunk{"data", []byte{0, 0}})},
		{"missing data", buildRIFF(fmtChunk(FormatPCM, 1, 8000, 16))},
		{"truncated data chunk", truncatedData},
		{"fmt too short", buildRIFF(chunk{"fmt ", []byte{1, 0, 1, 0}}, chunk{"data", []byte{0, 0}})},
		{"unsupported bit depth", buildRIFF(fmtChunk(FormatPCM, 1, 8000, 12), chunk{"data", []byte{0, 0}})},
		{"float64", buildRIFF(fmtChunk(FormatIEEEFloat, 1, 8000, 64), chunk{"data", make([]byte, 8)})},
		{"unknown tag", buildRIFF(fmtChunk(0x0055, 1, 8000, 16), chunk{"data", []byte{0, 0}})},
		{"zero channels", buildRIFF(fmtChunk(FormatPCM, 0, 8000, 16), chunk{"data", []byte{0, 0}})},
		{"inconsistent block align", buildRIFF(badAlign, chunk{"data", []byte{0, 0, 0, 0}})},
		{"partial frame", buildRIFF(fmtChunk(FormatPCM, 2, 8000, 16), chunk{"data", []byte{0, 0, 0}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := Decode(tt.data)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
		})
	}
}

func TestEncodeValidates(t *testing.T) {
	t.Parallel()

	_, err := EncodeBytes(nil, 16)
	require.Error(t, err)

	_, err = EncodeBytes(&Sample{SampleRate: 8000, Channels: [][]float32{{0}}}, 12)
	require.Error(t, err)

	_, err = EncodeBytes(&Sample{SampleRate: 8000, Channels: [][]float32{{0, 1}, {0}}}, 16)
	require.Error(t, err)
}

type fakeRecorder struct {
	hits, misses, decodes, failures int
}

func (f *fakeRecorder) RecordDecode(_ string, _ int, _ time.Duration, err error) {
	f.decodes++
	if err != nil {
		f.failures++
	}
}

func (f *fakeRecorder) RecordCacheLookup(hit bool) {
	if hit {
		f.hits++
		return
	}
	f.misses++
}

func TestCacheDecodesOnce(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	c := NewCache(time.Minute, 0, WithRecorder(rec))

	data, err := EncodeBytes(&Sample{SampleRate: 48000, Channels: [][]float32{{0.1, 0.2, 0.3}}}, 16)
	require.NoError(t, err)

	first, err := c.Decode(data)
	require.NoError(t, err)
	second, err := c.Decode(data)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())

	_, err = c.Decode([]byte("not a wav file"))
	require.Error(t, err)
	assert.Equal(t, 1, c.Len(), "failures are not cached")

	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 2, rec.misses)
	assert.Equal(t, 2, rec.decodes)
	assert.Equal(t, 1, rec.failures)

	c.Flush()
	assert.Equal(t, 0, c.Len())
}
