package clicks

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/audiocore/metronome"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
	"github.com/herrbasan/SoundApp-sub001/internal/formats/wav"
	"github.com/herrbasan/SoundApp-sub001/internal/logger"
)

// Command creates the clicks command, which writes the built-in metronome
// clicks as WAV files.
func Command(ctx *app.Context) *cobra.Command {
	var (
		sampleRate int
		bitDepth   int
	)
	cmd := &cobra.Command{
		Use:   "clicks [dir]",
		Short: "Write the built-in metronome clicks as WAV files",
		Long:  "Write high.wav (accent) and low.wav (beat) into dir, ready to be edited and set as metronome.high_click and metronome.low_click.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if sampleRate <= 0 {
				sampleRate = ctx.Settings.Audio.SampleRate
			}
			return writeClicks(ctx.Log("clicks"), dir, sampleRate, bitDepth)
		},
	}
	cmd.Flags().IntVarP(&sampleRate, "rate", "r", 0, "Sample rate in Hz (default audio.sample_rate)")
	cmd.Flags().IntVarP(&bitDepth, "bits", "b", 16, "PCM bit depth: 16, 24 or 32")
	return cmd
}

func writeClicks(log logger.Logger, dir string, sampleRate, bitDepth int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.FileError(err, dir, 0)
	}
	high, low := metronome.DefaultClicks(sampleRate)
	for name, s := range map[string]*wav.Sample{"high.wav": high, "low.wav": low} {
		path := filepath.Join(dir, name)
		if err := writeSample(path, s, bitDepth); err != nil {
			return err
		}
		log.Info("click written",
			logger.String("path", path),
			logger.Int("frames", s.Frames()),
			logger.Int("sample_rate", sampleRate))
		fmt.Println(path)
	}
	return nil
}

func writeSample(path string, s *wav.Sample, bitDepth int) error {
	f, err := os.Create(path) //nolint:gosec // path from the command line
	if err != nil {
		return errors.FileError(err, path, 0)
	}
	if err := wav.Encode(f, s, bitDepth); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.FileError(err, path, 0)
	}
	return nil
}
