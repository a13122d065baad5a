package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log output formats accepted by InitLogger.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// InitLogger builds the process logger. JSON output carries source locations;
// text output is meant for a developer terminal.
func InitLogger(level slog.Level, format string) *slog.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	if strings.EqualFold(strings.TrimSpace(format), FormatText) {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}))
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// NewComponentLogger tags every record with the component name.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", component))
}
