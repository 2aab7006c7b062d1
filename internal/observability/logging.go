// Package observability wires structured logging, Prometheus metrics and
// tracing spans for the statmill commands.
package observability

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects log verbosity and destination. The three level flags
// are mutually exclusive; Debug wins over Verbose wins over Silent.
type LogConfig struct {
	Debug   bool
	Verbose bool
	Silent  bool

	// File routes logs to a rotated file instead of stderr.
	File string

	// JSON switches the handler to JSON output.
	JSON bool
}

// Level maps the verbosity flags to a slog level. The default is warnings
// only; progress reporting goes through counters, not logs.
func (c LogConfig) Level() slog.Level {
	switch {
	case c.Debug:
		return slog.LevelDebug
	case c.Verbose:
		return slog.LevelInfo
	case c.Silent:
		return slog.LevelError
	}

	return slog.LevelWarn
}

// SetupLogging installs the process-wide default logger and returns it.
func SetupLogging(cfg LogConfig) *slog.Logger {
	var out io.Writer = os.Stderr

	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // MB
			MaxBackups: 3,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.Level()}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
