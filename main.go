package main

import (
	"fmt"
	"os"

	"github.com/chestguard/chestguard/cmd"
	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/logger"
)

// Set at build time with -ldflags "-X main.buildDate=... -X main.version=..."
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	settings.Version = version
	settings.BuildDate = buildDate

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	logger.SetGlobal(central)
	defer func() {
		if err := central.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing log files: %v\n", err)
		}
	}()

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		logger.Global().Module("main").Error("command failed", logger.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
