// Package logging wraps log/slog with component-scoped loggers in the
// console format HomeRoute's other processes (the agent, the cloud-relay)
// all share.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level re-exports slog.Level so callers don't need to import log/slog.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with a dynamically adjustable level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Output io.Writer
	JSON   bool
}

// DefaultConfig returns sensible defaults: info level, console format, stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr, JSON: false}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)

	opts := &slog.HandlerOptions{Level: levelVar}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = NewConsoleHandler(cfg.Output, opts)
	}

	return &Logger{Logger: slog.New(handler), level: levelVar}
}

// Default returns the process-wide default logger, creating it on first use.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(DefaultConfig())
	})
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// SetLevel changes the log level dynamically.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

// GetLevel returns the current log level.
func (l *Logger) GetLevel() Level { return l.level.Level() }

// WithComponent returns a logger tagged with a component name, rendered as
// a "name:" prefix before the message by ConsoleHandler (e.g. "dns",
// "dhcp", "proxy").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), level: l.level}
}

// WithFields returns a logger with additional structured fields bound.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent is a package-level convenience that tags the default logger.
func WithComponent(name string) *Logger { return Default().WithComponent(name) }

// Audit logs an audit event at info level with a fixed shape, regardless of
// the configured level filter -- callers that need audit trails use this
// instead of Info so a later level bump can't silently drop them.
func (l *Logger) Audit(action, resource string, details map[string]any) {
	args := []any{
		"audit", true,
		"action", action,
		"resource", resource,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range details {
		args = append(args, k, v)
	}
	r := slog.NewRecord(time.Now(), LevelInfo, "audit", 0)
	r.Add(args...)
	_ = l.Logger.Handler().Handle(context.Background(), r)
}
