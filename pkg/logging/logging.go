// Package logging configures slog for the command-line and desktop front
// ends and keeps a bounded in-memory copy of recent records for display.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug|info|warn|error to a slog level. Unknown names
// yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CLILevel picks the command-line level from the --debug and --verbose
// flags. Without either only warnings and errors are shown.
func CLILevel(debug, verbose bool) slog.Level {
	switch {
	case debug:
		return slog.LevelDebug
	case verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// Setup installs a text handler writing to w as the default logger and
// returns it.
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Debug("Logging initialized", "level", level.String())
	return logger
}

// SetupWithRing is Setup plus a RingHandler capturing up to capacity
// records at or above level.
func SetupWithRing(w io.Writer, level slog.Level, capacity int) (*slog.Logger, *RingHandler) {
	ring := NewRingHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), capacity, level)
	logger := slog.New(ring)
	slog.SetDefault(logger)
	logger.Debug("Logging initialized", "level", level.String(), "ring_capacity", ring.Capacity())
	return logger, ring
}
