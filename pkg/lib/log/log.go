// Package log provides the connection manager's structured logging
// primitive: a thin wrapper around log/slog that binds a component name
// to every record without requiring callers to thread a logger through
// every constructor.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var defaultLogger = slog.Default()

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// SetDefault installs l as the default logger used by package-level
// helpers and by every LazyLogger returned from Logger.
func SetDefault(l *slog.Logger) {
	defaultLogger = l
	slog.SetDefault(l)
}

// SetOutput redirects the default logger to w at LevelInfo; a level set
// earlier with SetLevel is not kept.
func SetOutput(w io.Writer) {
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: LevelInfo}))
	slog.SetDefault(defaultLogger)
}

// SetLevel recreates the default logger at the given level, writing to stderr.
func SetLevel(level slog.Level) {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(defaultLogger)
}

// LazyLogger re-resolves slog.Default() on every call, so redirecting
// output with SetOutput/SetLevel affects loggers already handed out to
// components.
type LazyLogger struct {
	component string
}

func (l *LazyLogger) Debug(msg string, args ...any) {
	slog.Default().With("component", l.component).Debug(msg, args...)
}

func (l *LazyLogger) Info(msg string, args ...any) {
	slog.Default().With("component", l.component).Info(msg, args...)
}

func (l *LazyLogger) Warn(msg string, args ...any) {
	slog.Default().With("component", l.component).Warn(msg, args...)
}

func (l *LazyLogger) Error(msg string, args ...any) {
	slog.Default().With("component", l.component).Error(msg, args...)
}

func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	slog.Default().With("component", l.component).DebugContext(ctx, msg, args...)
}

func (l *LazyLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	slog.Default().With("component", l.component).InfoContext(ctx, msg, args...)
}

// With returns a *slog.Logger carrying both the component name and args.
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return slog.Default().With("component", l.component).With(args...)
}

// Logger returns a LazyLogger scoped to component, e.g. log.Logger("connmgr/table").
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

// TruncateID safely truncates id for log display, avoiding a
// slice-bounds panic on short identifiers.
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelInfo}))
}
