package waveform

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
	"github.com/herrbasan/SoundApp-sub001/internal/waveform"
)

// Command creates the waveform command, which extracts min/max peak
// envelopes from WAV files.
func Command(ctx *app.Context) *cobra.Command {
	var (
		opts     waveform.Options
		parallel int
		format   string
	)
	cmd := &cobra.Command{
		Use:   "waveform [file.wav...]",
		Short: "Extract min/max peak envelopes from WAV files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := ctx.Log("waveform")
			results, err := waveform.ExtractFiles(cmd.Context(), args, opts, parallel)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Aborted {
					log.Warn("waveform scan aborted",
						logger.String("path", r.Path),
						logger.Int("frames_scanned", r.FramesScanned),
						logger.Int("frames", r.Frames))
				}
			}
			return write(cmd.OutOrStdout(), results, format)
		},
	}
	cmd.Flags().IntVarP(&opts.Points, "points", "n", waveform.DefaultPoints, "Min/max pairs per channel")
	cmd.Flags().IntVar(&opts.ChunkFrames, "chunk", waveform.DefaultChunkFrames, "Decode chunk size in frames")
	cmd.Flags().IntVarP(&parallel, "parallel", "j", 2, "Files scanned at once")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

func write(w io.Writer, results []*waveform.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		return enc.Encode(results)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(results)
	case "text", "":
		for _, r := range results {
			fmt.Fprintf(w, "%s: %d Hz, %d ch, %d frames, %d points of %d frames, %s\n",
				r.Path, r.SampleRate, r.Channels, r.Frames, pointCount(r), r.FramesPerPt, r.Elapsed)
			for ch := range r.Min {
				lo, hi := extent(r.Min[ch], r.Max[ch])
				fmt.Fprintf(w, "  channel %d: min %.4f max %.4f\n", ch, lo, hi)
			}
		}
		return nil
	default:
		return errors.Newf("unknown output format %q", format).
			Component("waveform").
			Category(errors.CategoryValidation).
			Build()
	}
}

func pointCount(r *waveform.Result) int {
	if len(r.Min) == 0 {
		return 0
	}
	return len(r.Min[0])
}

func extent(mins, maxs []float32) (lo, hi float32) {
	for _, v := range mins {
		lo = min(lo, v)
	}
	for _, v := range maxs {
		hi = max(hi, v)
	}
	return lo, hi
}
