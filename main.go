package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stationsafe/scanner-go/cmd"
	"github.com/stationsafe/scanner-go/internal/buildinfo"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/telemetry"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing logger, using console: %v\n", err)
	} else {
		logger.SetGlobal(central)
		defer func() { _ = central.Close() }()
	}

	info := buildinfo.NewContext(version, buildDate, systemID(settings))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.RootCommand(settings, info).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// systemID is only created when error reporting is enabled
func systemID(settings *conf.Settings) string {
	if !settings.Sentry.Enabled {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	id, err := telemetry.LoadOrCreateSystemID(filepath.Join(home, ".config", "scanner"))
	if err != nil {
		logger.Global().Module("main").Warn("failed to load system ID", logger.Error(err))
		return ""
	}
	return id
}
