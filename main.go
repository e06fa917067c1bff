package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/herrbasan/SoundApp-sub001/cmd"
	"github.com/herrbasan/SoundApp-sub001/internal/app"
	"github.com/herrbasan/SoundApp-sub001/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	appCtx := app.New()
	appCtx.Build = &buildinfo.Context{Version: version, BuildDate: buildDate}
	err := cmd.RootCommand(appCtx).ExecuteContext(ctx)
	if shutdownErr := appCtx.Shutdown(); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "soundcore: shutdown: %s\n", cmd.ErrorMessage(shutdownErr))
	}
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "soundcore: %s\n", cmd.ErrorMessage(err))
		os.Exit(1)
	}
}
