// Package logger builds the process logger: colored console output on
// stderr through tint and, optionally, a size-rotated log file through
// lumberjack. Both sinks receive every record at or above the configured
// level.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation limits.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 28
)

// RunIDKey is the attribute carrying the run identifier.
const RunIDKey = "run_id"

// Options configures New.
type Options struct {
	Level   slog.Level
	Console io.Writer // os.Stderr when nil
	NoColor bool
	File    string // rotating log file, disabled when empty
	RunID   string // attached to every record when set
}

// Logger is a slog.Logger together with the resources it owns.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// New builds a logger for opts.
func New(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.TimeOnly,
			NoColor:    opts.NoColor,
		}),
	}

	l := &Logger{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    DefaultMaxSizeMB,
			MaxBackups: DefaultMaxBackups,
			MaxAge:     DefaultMaxAgeDays,
			Compress:   true,
		}
		l.closers = append(l.closers, file)
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: opts.Level}))
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = &multiHandler{handlers: handlers}
	}
	l.Logger = slog.New(h)
	if opts.RunID != "" {
		l.Logger = l.Logger.With(RunIDKey, opts.RunID)
	}
	return l
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

type ctxKey struct{}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
