// Package logging configures the process-wide zerolog sink that the
// packages which log (internal/position, internal/execution,
// internal/exchange, internal/reconcile, internal/api) log through via
// constructor injection. It owns only bootstrap concerns: level parsing, console vs.
// JSON output selection, and the component/trace-id enrichment every
// subsystem logger starts from.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ParseLevel converts a config string into a zerolog.Level, defaulting to
// Info on anything unrecognized.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config is the bootstrap logger configuration main.go builds at
// startup; the engine's persisted config has no logging section.
type Config struct {
	Level       string // "DEBUG", "INFO", "WARN", "ERROR", "FATAL"
	Output      string // "stdout", "stderr", or a file path
	JSONFormat  bool   // false renders a human console writer
	IncludeFile bool   // include caller file:line
}

// New builds the root zerolog.Logger for the process. Every subsystem
// constructor (position.NewManager, execution.NewSupervisor, ...) takes a
// zerolog.Logger derived from this one via .With().Str("component", ...).
func New(cfg Config) zerolog.Logger {
	var w io.Writer = resolveOutput(cfg.Output)

	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}

	log := ctx.Logger().Level(ParseLevel(cfg.Level))
	return log
}

func resolveOutput(output string) *os.File {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}
