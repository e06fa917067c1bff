// Package waveform extracts min/max peak envelopes from WAV files for
// display. Files are streamed in chunks so memory stays bounded, and the
// scan can be aborted between chunks.
package waveform

import (
	"context"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"golang.org/x/sync/errgroup"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// Defaults for Options
const (
	DefaultPoints      = 1000
	DefaultChunkFrames = 16384
)

// Options controls the envelope resolution
type Options struct {
	// Points is the number of min/max pairs per channel.
	Points int
	// ChunkFrames is the decode chunk; cancellation is checked between chunks.
	ChunkFrames int
}

func (o Options) withDefaults() Options {
	if o.Points <= 0 {
		o.Points = DefaultPoints
	}
	if o.ChunkFrames <= 0 {
		o.ChunkFrames = DefaultChunkFrames
	}
	return o
}

// Result is a peak envelope. Min and Max are indexed by channel, then point.
type Result struct {
	Path          string      `json:"path,omitempty" yaml:"path,omitempty"`
	SampleRate    int         `json:"sample_rate" yaml:"sample_rate"`
	Channels      int         `json:"channels" yaml:"channels"`
	Frames        int         `json:"frames" yaml:"frames"`
	FramesScanned int         `json:"frames_scanned" yaml:"frames_scanned"`
	FramesPerPt   int         `json:"frames_per_point" yaml:"frames_per_point"`
	Min           [][]float32 `json:"min" yaml:"min"`
	Max           [][]float32 `json:"max" yaml:"max"`
	// Aborted is set when the scan stopped early; the points scanned so far
	// are valid.
	Aborted bool          `json:"aborted" yaml:"aborted"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Extract scans a WAV stream. Cancelling ctx stops the scan at the next
// chunk boundary and returns the partial result with Aborted set and a nil
// error.
func Extract(ctx context.Context, r io.ReadSeeker, opts Options) (*Result, error) {
	start := time.Now()
	opts = opts.withDefaults()

	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("waveform").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if decoder.NumChans == 0 || decoder.BitDepth == 0 {
		return nil, errors.Newf("WAV header declares %d channels of %d bits", decoder.NumChans, decoder.BitDepth).
			Component("waveform").
			Category(errors.CategoryFileParsing).
			Build()
	}

	if err := decoder.FwdToPCM(); err != nil {
		return nil, errors.New(err).
			Component("waveform").
			Category(errors.CategoryFileParsing).
			Build()
	}

	channels := int(decoder.NumChans)
	bytesPerFrame := channels * int(decoder.BitDepth) / 8
	frames := int(decoder.PCMLen()) / bytesPerFrame

	res := &Result{
		SampleRate:  int(decoder.SampleRate),
		Channels:    channels,
		Frames:      frames,
		FramesPerPt: max(1, (frames+opts.Points-1)/opts.Points),
		Min:         make([][]float32, channels),
		Max:         make([][]float32, channels),
	}
	points := (frames + res.FramesPerPt - 1) / res.FramesPerPt
	for c := range channels {
		res.Min[c] = make([]float32, points)
		res.Max[c] = make([]float32, points)
	}

	divisor := float32(math.Ldexp(1, int(decoder.BitDepth)-1))
	buf := &audio.IntBuffer{
		Data:   make([]int, opts.ChunkFrames*channels),
		Format: &audio.Format{SampleRate: res.SampleRate, NumChannels: channels},
	}

	for {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, errors.New(err).
				Component("waveform").
				Category(errors.CategoryFileParsing).
				Context("frames_scanned", res.FramesScanned).
				Build()
		}
		if n == 0 {
			break
		}

		chunk := n / channels
		for j := range chunk {
			p := (res.FramesScanned + j) / res.FramesPerPt
			if p >= points {
				break
			}
			for c := range channels {
				v := float32(buf.Data[j*channels+c]) / divisor
				if v < res.Min[c][p] {
					res.Min[c][p] = v
				}
				if v > res.Max[c][p] {
					res.Max[c][p] = v
				}
			}
		}
		res.FramesScanned += chunk
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

// ExtractFile opens path and scans it.
func ExtractFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path) //nolint:gosec // path from the command line
	if err != nil {
		return nil, errors.New(err).
			Component("waveform").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	res, err := Extract(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	res.Path = path
	return res, nil
}

// ExtractFiles scans paths with at most parallel files in flight. The
// results keep the order of paths. The first failure cancels the rest.
func ExtractFiles(ctx context.Context, paths []string, opts Options, parallel int) ([]*Result, error) {
	results := make([]*Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, path := range paths {
		g.Go(func() error {
			res, err := ExtractFile(gctx, path, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
