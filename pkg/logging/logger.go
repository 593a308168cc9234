// Package logging provides the slog-based logger shared by every component.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gaiwait/pkg/config"
)

// Logger wraps slog.Logger with a level that can be changed at runtime
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New creates a new logger from configuration
func New(cfg *config.LoggingConfig) (*Logger, error) {
	var (
		output io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		output, closer = f, f
	default:
		output = os.Stderr
	}

	l := NewWithWriter(output, cfg.Format, parseLevel(cfg.Level), cfg.AddSource)
	l.closer = closer
	return l, nil
}

// NewWithWriter builds a logger writing to w. Tests use it to capture output.
func NewWithWriter(w io.Writer, format string, level slog.Level, addSource bool) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)

	opts := &slog.HandlerOptions{
		Level:     lv,
		AddSource: addSource,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  lv,
	}
}

// NewDefault creates a logger with sensible defaults (info level, text format, stderr)
func NewDefault() *Logger {
	return NewWithWriter(os.Stderr, "text", slog.LevelInfo, false)
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWithWriter(io.Discard, "text", slog.LevelError, false)
}

// SetLevel changes the minimum level of this logger and every logger derived from it
func (l *Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Set(parseLevel(level))
	}
}

// Level returns the current minimum level
func (l *Logger) Level() slog.Level {
	if l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		level:  l.level,
	}
}

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
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

var global = NewDefault()

// SetGlobal sets the global logger
func SetGlobal(logger *Logger) {
	global = logger
	slog.SetDefault(logger.Logger)
}

// Global returns the global logger
func Global() *Logger {
	return global
}

// OrGlobal returns l, or the global logger when l is nil
func OrGlobal(l *Logger) *Logger {
	if l == nil {
		return global
	}
	return l
}
