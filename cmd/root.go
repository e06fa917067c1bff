package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/herrbasan/SoundApp-sub001/cmd/analyze"
	"github.com/herrbasan/SoundApp-sub001/cmd/clicks"
	"github.com/herrbasan/SoundApp-sub001/cmd/config"
	"github.com/herrbasan/SoundApp-sub001/cmd/midi"
	"github.com/herrbasan/SoundApp-sub001/cmd/play"
	"github.com/herrbasan/SoundApp-sub001/cmd/waveform"
	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "soundcore",
		Short:         "Real-time audio DSP core",
		Version:       ctx.Build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, ctx); err != nil {
		panic(err)
	}

	configCmd := config.Command(ctx)
	subcommands := []*cobra.Command{
		play.Command(ctx),
		analyze.Command(ctx),
		midi.Command(ctx),
		waveform.Command(ctx),
		clicks.Command(ctx),
		configCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := ctx.Init(); err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *app.Context) error {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigPath, "config", "c", "", "Path to the config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics to this file on exit")

	v := ctx.Loader.Viper()
	if err := v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := v.BindPFlag("metrics.textfile", rootCmd.PersistentFlags().Lookup("metrics-file")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// ErrorMessage renders err for the terminal. The context of the first
// enhanced error in the chain is appended as sorted key=value pairs.
func ErrorMessage(err error) string {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return err.Error()
	}
	ctx := ee.GetContext()
	if len(ctx) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(ctx))
	for _, k := range slices.Sorted(maps.Keys(ctx)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ctx[k]))
	}
	return fmt.Sprintf("%s (%s)", err.Error(), strings.Join(parts, " "))
}
