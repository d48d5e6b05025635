// Package plog is the application's logging layer. It wraps log/slog with an
// extra NOTICE level, a console handler that splits stdout and stderr by
// level, and a tee handler so every record can also land in the persistent
// log file.
//
// Components that emit records take a Sink instead of reaching for the
// package-level logger, which keeps them testable with a Recorder.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Log levels. NOTICE sits between DEBUG and INFO and is used for per-entry
// chatter that is useful while watching a run but too noisy for INFO.
const (
	LevelDebug  = slog.LevelDebug
	LevelNotice = slog.Level(-2)
	LevelInfo   = slog.LevelInfo
	LevelWarn   = slog.LevelWarn
	LevelError  = slog.LevelError
)

// Sink receives structured log records. It is the only logging dependency of
// the mirror engine.
type Sink interface {
	Record(level slog.Level, msg string, args ...any)
}

// levelVar is shared by every handler created through this package so that
// SetLevel affects console and file output alike.
var levelVar = new(slog.LevelVar)

var quietMode atomic.Bool

var defaultLogger *Logger

func init() {
	defaultLogger = New(NewConsoleHandler(os.Stdout, os.Stderr))
}

// Logger is a Sink backed by a slog.Logger.
type Logger struct {
	sl *slog.Logger
}

// New creates a Logger on top of the given handler.
func New(h slog.Handler) *Logger {
	return &Logger{sl: slog.New(h)}
}

// With returns a Logger that adds the given attributes to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

// Record implements Sink.
func (l *Logger) Record(level slog.Level, msg string, args ...any) {
	if quietMode.Load() && level < LevelWarn {
		return
	}
	l.sl.Log(context.Background(), level, msg, args...)
}

func (l *Logger) Debug(msg string, args ...any)  { l.Record(LevelDebug, msg, args...) }
func (l *Logger) Notice(msg string, args ...any) { l.Record(LevelNotice, msg, args...) }
func (l *Logger) Info(msg string, args ...any)   { l.Record(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)   { l.Record(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any)  { l.Record(LevelError, msg, args...) }

// handlerOptions returns the options used by every text handler of this package.
func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: replaceLevelName,
	}
}

// replaceLevelName renders LevelNotice as "NOTICE" instead of slog's "DEBUG+2".
func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelNotice {
		a.Value = slog.StringValue("NOTICE")
	}
	return a
}

// NewTextHandler creates a text handler writing to w that honours the global level.
func NewTextHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, handlerOptions())
}

// NewConsoleHandler creates a handler that writes INFO and below to stdout and
// WARN and above to stderr.
func NewConsoleHandler(stdout, stderr io.Writer) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: NewTextHandler(stdout),
		stderrHandler: NewTextHandler(stderr),
	}
}

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the package-level logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput redirects the package-level logger to a single writer, primarily for testing.
func SetOutput(w io.Writer) {
	quietMode.Store(false)
	defaultLogger = New(NewTextHandler(w))
}

// SetLevel sets the minimum level for all handlers created by this package.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// SetQuiet enables or disables quiet mode. In quiet mode only WARN and above are written.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode.Load()
}

// LevelFromString converts a level name to a slog.Level. Unknown names map to INFO.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// IsValidLevel reports whether s names one of the supported levels.
func IsValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "notice", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func Debug(msg string, args ...any)  { defaultLogger.Debug(msg, args...) }
func Notice(msg string, args ...any) { defaultLogger.Notice(msg, args...) }
func Info(msg string, args ...any)   { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)   { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any)  { defaultLogger.Error(msg, args...) }
