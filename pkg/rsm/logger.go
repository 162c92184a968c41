package rsm

import (
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a fresh id, attached to every log line of a run.
func NewRunID() string { return uuid.NewString() }

// NewLogger returns a text logger writing to w, tagging each line with the run id.
func NewLogger(w io.Writer, level, runID string) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)})
	return slog.New(h).With(slog.String("run", runID))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// discardLogger is used when a caller doesn't supply one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
