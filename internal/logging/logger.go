package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// Logs go to stderr so command output on stdout stays machine-readable.
func NewLogger(env, level string) *slog.Logger {
	return New(os.Stderr, env, level)
}

// New is NewLogger writing to w.
func New(w io.Writer, env, level string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		opts.Level = parseLevel(level, slog.LevelInfo)
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = parseLevel(level, slog.LevelDebug)
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string, fallback slog.Level) slog.Level {
	if level == "" {
		return fallback
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fallback
	}

	return l
}
