package analyze

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/feeder"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
	"github.com/herrbasan/SoundApp-sub001/internal/loudness"
	"github.com/herrbasan/SoundApp-sub001/internal/observability/metrics"
)

// Options controls an offline analysis run
type Options struct {
	Window   int // snapshot length in frames
	Interval time.Duration
	Minimal  bool
}

// Summary is the output of the analyze command. Loudness figures are
// omitted in minimal mode.
type Summary struct {
	File         string   `json:"file" yaml:"file"`
	SampleRate   int      `json:"sample_rate" yaml:"sample_rate"`
	Channels     int      `json:"channels" yaml:"channels"`
	Seconds      float64  `json:"seconds" yaml:"seconds"`
	Snapshots    int      `json:"snapshots" yaml:"snapshots"`
	PeakMax      float64  `json:"peak_max" yaml:"peak_max"`
	Correlation  float64  `json:"correlation" yaml:"correlation"`
	MomentaryMax *float64 `json:"momentary_max,omitempty" yaml:"momentary_max,omitempty"`
	ShortTermMax *float64 `json:"short_term_max,omitempty" yaml:"short_term_max,omitempty"`
	Integrated   *float64 `json:"integrated,omitempty" yaml:"integrated,omitempty"`
	Range        *float64 `json:"range,omitempty" yaml:"range,omitempty"`
}

// Command creates the analyze command, which measures the peak and
// loudness of a WAV file with the live analyzer's windowing.
func Command(ctx *app.Context) *cobra.Command {
	var (
		opts   Options
		format string
	)
	cmd := &cobra.Command{
		Use:   "analyze [file.wav]",
		Short: "Measure peak and loudness of a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Window <= 0 {
				opts.Window = ctx.Settings.Analyzer.FFTSize
			}
			if opts.Interval <= 0 {
				opts.Interval = ctx.Settings.Analyzer.Interval
			}
			if !cmd.Flags().Changed("minimal") {
				opts.Minimal = ctx.Settings.Analyzer.Minimal
			}
			var recorder *metrics.ParserMetrics
			if ctx.Metrics != nil {
				recorder = ctx.Metrics.Parser
			}

			log := ctx.Log("analyze")
			start := time.Now()
			summary, err := Analyze(cmd.Context(), args[0], opts, recorder)
			if err != nil {
				return err
			}
			log.Debug("analysis finished",
				logger.String("file", args[0]),
				logger.Int("snapshots", summary.Snapshots),
				logger.Duration("elapsed", time.Since(start)))
			return Write(cmd.OutOrStdout(), summary, format)
		},
	}
	cmd.Flags().IntVarP(&opts.Window, "window", "w", 0, "Snapshot length in frames (default analyzer.fft_size)")
	cmd.Flags().DurationVarP(&opts.Interval, "interval", "i", 0, "Snapshot cadence (default analyzer.interval)")
	cmd.Flags().BoolVar(&opts.Minimal, "minimal", false, "Measure peaks only")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

// Analyze streams the WAV file at path through an offline analyzer
func Analyze(ctx context.Context, path string, opts Options, recorder *metrics.ParserMetrics) (*Summary, error) {
	f, err := os.Open(path) //nolint:gosec // path from the command line
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	defer f.Close()

	var size int
	if info, err := f.Stat(); err == nil {
		size = int(info.Size())
	}

	start := time.Now()
	src, err := feeder.OpenWAV(f)
	if err != nil {
		recorder.RecordDecode(metrics.FormatWAV, size, time.Since(start), err)
		return nil, err
	}
	off, err := loudness.NewOffline(src.SampleRate, opts.Window, opts.Interval, opts.Minimal)
	if err != nil {
		return nil, err
	}

	sink := &floatSink{offline: off}
	frames, err := src.Stream(ctx, sink, audiocore.Channels)
	recorder.RecordDecode(metrics.FormatWAV, size, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if off.Snapshots() == 0 {
		return nil, errors.Newf("file is shorter than one %d frame window", opts.Window).
			Component("analyze").
			Category(errors.CategoryValidation).
			Context("frames", frames).
			Build()
	}

	res := off.Result()
	s := &Summary{
		File:        path,
		SampleRate:  src.SampleRate,
		Channels:    src.Channels,
		Seconds:     float64(frames) / float64(src.SampleRate),
		Snapshots:   off.Snapshots(),
		PeakMax:     res.PeakMax,
		Correlation: res.Correlation,
	}
	if res.LUFS != nil {
		s.MomentaryMax = &res.MomentaryMax
		s.ShortTermMax = &res.LUFS.ShortTermMax
		s.Integrated = res.LUFS.Integrated
		s.Range = &res.LUFS.Range
	}
	return s, nil
}

// floatSink decodes the float32LE stream of a WAVSource into an Offline
// runner. Bytes short of a whole stereo frame wait for the next write.
type floatSink struct {
	offline *loudness.Offline
	pending []byte
	buf     []float32
}

const frameBytes = audiocore.Channels * 4

func (s *floatSink) Write(p []byte) (int, error) {
	s.pending = append(s.pending, p...)
	whole := len(s.pending) / frameBytes * frameBytes

	s.buf = s.buf[:0]
	for i := 0; i < whole; i += 4 {
		s.buf = append(s.buf, math.Float32frombits(binary.LittleEndian.Uint32(s.pending[i:])))
	}
	s.pending = append(s.pending[:0], s.pending[whole:]...)

	if err := s.offline.Write(s.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Write renders summary in the given format
func Write(w io.Writer, summary *Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(summary)
	case "text", "":
	default:
		return errors.Newf("unknown output format %q", format).
			Component("analyze").
			Category(errors.CategoryValidation).
			Build()
	}

	fmt.Fprintf(w, "%s: %d Hz, %d channels, %.2f s, %d snapshots\n",
		summary.File, summary.SampleRate, summary.Channels, summary.Seconds, summary.Snapshots)
	fmt.Fprintf(w, "peak max:        %7.2f dBFS\n", summary.PeakMax)
	fmt.Fprintf(w, "correlation:     %7.2f\n", summary.Correlation)
	if summary.MomentaryMax == nil {
		return nil
	}
	fmt.Fprintf(w, "momentary max:   %7.2f LUFS\n", *summary.MomentaryMax)
	fmt.Fprintf(w, "short-term max:  %7.2f LUFS\n", *summary.ShortTermMax)
	if summary.Integrated != nil {
		fmt.Fprintf(w, "integrated:      %7.2f LUFS\n", *summary.Integrated)
	} else {
		fmt.Fprintln(w, "integrated:      below gate")
	}
	fmt.Fprintf(w, "loudness range:  %7.2f LU\n", *summary.Range)
	return nil
}
