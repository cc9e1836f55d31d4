package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// NewSlogLogger returns a standalone JSON logger writing to w. It is meant
// for tests and for adapters that need a logger before the central logger
// exists.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})),
		level:    lvl,
		timezone: tz,
	}
}

// NewConsoleLogger returns a text logger on stdout for bootstrap code that
// runs before configuration is loaded.
func NewConsoleLogger(module string, level LogLevel) Logger {
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		module:   module,
		logger:   slog.New(newTextHandler(os.Stdout, lvl, time.Local)),
		level:    lvl,
		timezone: time.Local,
	}
}
