// Package logging supplies the key/value logger shared by workers and the
// in-process pipeline.
package logging

import (
	"log/slog"
	"os"

	"go.temporal.io/sdk/log"
)

// New returns a structured logger writing to stderr at the given level.
func New(level slog.Level) log.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return log.NewStructuredLogger(slog.New(handler))
}

// OrDefault returns l, or a logger over slog.Default when l is nil.
func OrDefault(l log.Logger) log.Logger {
	if l != nil {
		return l
	}
	return log.NewStructuredLogger(slog.Default())
}

// ParseLevel maps a config string to a slog level; unknown values are info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
