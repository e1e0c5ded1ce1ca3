package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/emx-mail/bridge/pkgs/config"
)

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func (a *app) loadConfig() *config.Config {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'mailbridge init' to create an example config\n")
		os.Exit(1)
	}
	return cfg
}

// newLogger builds the process logger. --verbose wins over the
// configured level.
func newLogger(level string, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
