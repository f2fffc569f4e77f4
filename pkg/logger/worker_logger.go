package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config for logger
type Config struct {
	Level   string
	Output  io.Writer
	Service string
	Pretty  bool
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Str("service", "warranty-worker").Logger()
)

// ParseLevel parses a string level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init replaces the process-wide logger. Call once from main.
func Init(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.Service == "" {
		cfg.Service = "warranty-worker"
	}

	l := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()

	mu.Lock()
	base = l
	mu.Unlock()
	return l
}

// Default returns the process-wide logger.
func Default() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Default().With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Package-level printf helpers for bootstrap code.
func Debug(msg string, args ...any) { l := Default(); l.Debug().Msg(fmt.Sprintf(msg, args...)) }
func Info(msg string, args ...any)  { l := Default(); l.Info().Msg(fmt.Sprintf(msg, args...)) }
func Warn(msg string, args ...any)  { l := Default(); l.Warn().Msg(fmt.Sprintf(msg, args...)) }
func Error(msg string, args ...any) { l := Default(); l.Error().Msg(fmt.Sprintf(msg, args...)) }
func Fatal(msg string, args ...any) { l := Default(); l.Fatal().Msg(fmt.Sprintf(msg, args...)) }

// WithError returns the default logger with an error field attached.
func WithError(err error) zerolog.Logger {
	return Default().With().Err(err).Logger()
}
