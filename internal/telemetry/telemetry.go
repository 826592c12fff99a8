// Package telemetry builds the process-wide structured logger from
// internal/config's LoggingConfig.
package telemetry

import (
	"log/slog"
	"os"

	"derivmm/internal/config"
)

// NewLogger builds a slog.Logger writing to stdout in either text (default)
// or JSON format, at the configured level.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
