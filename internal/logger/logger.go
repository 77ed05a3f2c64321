// Package logger provides leveled structured logging.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

// Init initializes the default logger with the specified level and format
// ("json" or "text").
func Init(level string, format string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	defaultLogger.Store(slog.New(handler))
}

func logf(level slog.Level, format string, args ...interface{}) {
	l := defaultLogger.Load()
	if l == nil {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) {
	logf(slog.LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	logf(slog.LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	logf(slog.LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	logf(slog.LevelError, format, args...)
}

func Fatal(format string, args ...interface{}) {
	if l := defaultLogger.Load(); l != nil {
		l.Log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...))
	}
	os.Exit(1)
}
