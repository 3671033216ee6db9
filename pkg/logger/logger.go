// Package logger builds the slog logger stack from configuration: a text or
// JSON handler on stderr, optionally wrapped by the telemetry handlers.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/contextmem/contextmem/pkg/config"
)

// New builds a logger from the log configuration.
func New(cfg config.LogConfig) *slog.Logger {
	return slog.New(NewHandler(cfg))
}

// NewHandler builds the base slog handler from the log configuration.
func NewHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// NewDefaultLogger returns a text logger at the given level.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a level name onto slog's levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
