// Package logging builds the slog loggers used by the STM and its command line tool.
//
// The engine never logs on the hot path. It receives a *slog.Logger through its
// configuration and reports speculative upgrades and blocking retries at Debug, and
// exhausted retries or timeouts at Warn.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Level represents logging verbosity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	OutputPath string // empty for stderr, or a file path
	Format     string // "json" or "text"
}

// New builds a logger from cfg. The returned close function releases the log file,
// if one was opened, and is never nil.
//
// Example:
//
//	log, closeLog, err := logging.New(logging.Config{Level: logging.LevelDebug, Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer closeLog()
func New(cfg Config) (*slog.Logger, func() error, error) {
	var (
		writer  io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)

	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
			return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		file, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", cfg.OutputPath, err)
		}
		writer = file
		closeFn = file.Close
	}

	return NewWriter(writer, cfg.Level, cfg.Format), closeFn, nil
}

// NewWriter builds a logger that writes to w.
func NewWriter(w io.Writer, level Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a case-sensitive level name. Unknown names yield an error.
func ParseLevel(name string) (Level, error) {
	switch Level(name) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(name), nil
	default:
		return "", fmt.Errorf("logging: unknown level %q", name)
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record. It is the engine's default.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// WithFamily returns a logger annotated with a transaction family name.
func WithFamily(log *slog.Logger, family string) *slog.Logger {
	return log.With("family", family)
}
