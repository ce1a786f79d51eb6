package env

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL and returns the matching slog.Level.
// Unknown or empty values fall back to the provided default.
func ParseLogLevel(fallback slog.Level) slog.Level {
	if level, ok := parseLevel(Get("LOG_LEVEL", "")); ok {
		return level
	}
	return fallback
}

func parseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// NewLogger builds the process text logger at the level taken from LOG_LEVEL.
func NewLogger(w io.Writer, fallback slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLogLevel(fallback),
	}))
}
