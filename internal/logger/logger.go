// Package logger initializes the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the process logger. Init must be called before first use; until then
// it falls back to slog.Default.
var L = slog.Default()

// Init configures the global logger. Level is one of debug, info, warn,
// error; format is "text" or "json".
func Init(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	L = slog.New(handler)
	slog.SetDefault(L)
}

// Err wraps an error as a slog attribute.
func Err(err error) slog.Attr {
	return slog.Attr{Key: "error", Value: slog.StringValue(err.Error())}
}

// Secret redacts a sensitive value, keeping a short prefix for correlation.
func Secret(key, value string) slog.Attr {
	r := "?"
	if value != "" {
		r = "***"
		if len(value) > 5 {
			r = value[:5] + "***"
		}
	}
	return slog.Attr{Key: key, Value: slog.StringValue(r)}
}
