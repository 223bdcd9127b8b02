// Package logger provides structured logging for cartpilot.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *slog.Logger
	fileSink      *lumberjack.Logger
	mu            sync.RWMutex
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Options configures the logger.
type Options struct {
	Debug  bool         // Enable debug level logging
	Quiet  bool         // Only show errors
	JSON   bool         // Output as JSON
	Output io.Writer    // Output destination (default: stderr)
	File   *FileOptions // Also write to a rotating log file
	Logger *slog.Logger // Custom logger (overrides all other options)
}

// FileOptions controls the rotating log file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int // default 10
	MaxBackups int // default 3
	MaxAgeDays int
	Compress   bool
}

// Init initializes the logger with the specified options.
// Any previously opened log file is closed.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	closeFileLocked()

	if opts.Logger != nil {
		defaultLogger = opts.Logger
		return
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	if opts.Quiet {
		level = slog.LevelError
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	if opts.File != nil && opts.File.Path != "" {
		fileSink = newFileSink(*opts.File)
		output = io.MultiWriter(output, fileSink)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	defaultLogger = slog.New(handler)
}

func newFileSink(fo FileOptions) *lumberjack.Logger {
	size := fo.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	backups := fo.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	return &lumberjack.Logger{
		Filename:   fo.Path,
		MaxSize:    size,
		MaxBackups: backups,
		MaxAge:     fo.MaxAgeDays,
		Compress:   fo.Compress,
	}
}

func closeFileLocked() {
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
}

// Close flushes and closes the log file sink, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()
}

// SetLogger sets a custom slog.Logger, e.g. to route cartpilot logs
// into an application's existing handler.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

func current() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	return l
}

// Debug logs a debug message.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs an info message.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// Logf adapts the logger to printf-style callbacks at debug level.
func Logf(format string, args ...any) {
	l := current()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(fmt.Sprintf(format, args...))
}
