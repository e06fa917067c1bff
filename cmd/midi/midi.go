package midi

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/formats/midi"
	"github.com/herrbasan/SoundApp-sub001/internal/observability/metrics"
)

// Report is the output of the midi command
type Report struct {
	File       string                 `json:"file" yaml:"file"`
	Format     int                    `json:"format" yaml:"format"`
	Tracks     int                    `json:"tracks" yaml:"tracks"`
	Division   int                    `json:"division" yaml:"division"`
	Tempo      float64                `json:"tempo" yaml:"tempo"`
	Events     int                    `json:"events" yaml:"events"`
	DurationMs float64                `json:"duration_ms" yaml:"duration_ms"`
	Channels   map[int][]midi.Segment `json:"channels" yaml:"channels"`
}

// Command creates the midi command, which prints per-channel activity segments.
func Command(ctx *app.Context) *cobra.Command {
	var (
		gapMs  float64
		format string
	)
	cmd := &cobra.Command{
		Use:   "midi [file.mid]",
		Short: "Print the channel activity segments of a MIDI file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if gapMs <= 0 {
				gapMs = ctx.Settings.Midi.GapMs
			}
			var recorder *metrics.ParserMetrics
			if ctx.Metrics != nil {
				recorder = ctx.Metrics.Parser
			}
			report, err := Analyze(args[0], gapMs, recorder)
			if err != nil {
				return err
			}
			return Write(cmd.OutOrStdout(), report, format)
		},
	}
	cmd.Flags().Float64Var(&gapMs, "gap", 0, "Split segments at silences longer than this many milliseconds (default midi.gap_ms)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

// Analyze parses path and groups its events into segments
func Analyze(path string, gapMs float64, recorder *metrics.ParserMetrics) (*Report, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from the command line
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	start := time.Now()
	f, err := midi.Parse(data)
	recorder.RecordDecode(metrics.FormatMIDI, len(data), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &Report{
		File:       path,
		Format:     f.Format,
		Tracks:     f.Tracks,
		Division:   f.Division,
		Tempo:      f.Tempo,
		Events:     len(f.Events),
		DurationMs: f.DurationMs(),
		Channels:   midi.Segments(f, gapMs),
	}, nil
}

// Write renders report in the given format
func Write(w io.Writer, report *Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	case "text", "":
	default:
		return errors.Newf("unknown output format %q", format).
			Component("midi").
			Category(errors.CategoryValidation).
			Build()
	}

	fmt.Fprintf(w, "%s: format %d, %d tracks, %d events, %.1f s\n",
		report.File, report.Format, report.Tracks, report.Events, report.DurationMs/1000)
	for _, ch := range slices.Sorted(maps.Keys(report.Channels)) {
		segs := report.Channels[ch]
		fmt.Fprintf(w, "channel %2d: %d segments\n", ch+1, len(segs))
		for _, s := range segs {
			fmt.Fprintf(w, "  %10.1f ms - %10.1f ms  %5d events\n", s.StartMs, s.EndMs, s.EventCount)
		}
	}
	return nil
}
