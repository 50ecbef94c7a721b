package config

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a JSON slog logger writing to w at the given level.
// A nil writer means stderr, so stdout stays free for emitted payloads.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// DiscardLogger returns a logger that drops every record. Used as the default
// when callers do not inject one.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
