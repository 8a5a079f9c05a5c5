// SPDX-License-Identifier: AGPL-3.0-only

// Package logging provides the process-wide leveled logger. Output goes to
// stderr or a file, never stdout: stdout carries the JSON event protocol.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options configures a Logger.
type Options struct {
	// Level is one of: debug, info, warn, error. Defaults to info.
	Level string
	// FilePath, when set, appends log output to the given file instead of
	// stderr.
	FilePath string
}

// Logger is a thin leveled wrapper over slog.
type Logger struct {
	sl     *slog.Logger
	closer io.Closer
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(Options{})
)

// New creates a Logger with the given options. An unreadable log file falls
// back to stderr rather than failing startup.
func New(opts Options) *Logger {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			w = f
			closer = f
		}
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	return &Logger{sl: slog.New(handler), closer: closer}
}

// GetDefaultLogger returns the process-wide logger.
func GetDefaultLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// WithField returns a Logger that attaches the given field to every record.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{sl: l.sl.With(key, value), closer: l.closer}
}

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.sl.Debug(fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) {
	l.sl.Info(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...any) {
	l.sl.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.sl.Error(fmt.Sprintf(format, args...))
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
