// Package logging configures the process-wide structured logger. Verbosity
// follows rtp2httpd's -v 0..4 scale rather than named levels: 0 is silent
// except fatal errors, 4 is per-packet tracing.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls logger construction. Verbosity sets the level unless
// Level is non-empty; Level carries env/config-file overrides expressed
// as a named level instead of a number and takes precedence.
type Config struct {
	Verbosity        int
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	ExtraFields      map[string]string
}

// Configure builds the process logger and installs it as slog's default,
// matching every worker and the supervisor to one log format.
func Configure(cfg Config) *slog.Logger {
	level := levelFor(cfg)
	var handler slog.Handler
	out := io.Writer(os.Stderr)

	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+1)
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}

	if cfg.Structured && strings.ToLower(cfg.StructuredFormat) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// levelFor prefers an explicit named Level (used by config-file/env
// overrides); otherwise it derives a slog level from the -v 0..4 scale.
func levelFor(cfg Config) slog.Level {
	if cfg.Level != "" {
		return parseLevel(cfg.Level)
	}
	return VerbosityToLevel(cfg.Verbosity)
}

// VerbosityToLevel maps the CLI's -v 0..4 scale onto slog levels:
// 0 quiet (errors only), 1 default (warn+), 2 info, 3-4 debug (4 adds
// per-packet tracing, gated at call sites rather than by level).
func VerbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func parseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
