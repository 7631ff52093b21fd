// Package logging holds the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	logger  *slog.Logger
	mu      sync.RWMutex
	logFile *os.File
)

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn or error
	Format     string // text or json
	OutputPath string // empty for stderr
}

// Init replaces the global logger. An open log file from an earlier Init is
// closed.
func Init(cfg Config) error {
	var (
		w    io.Writer = os.Stderr
		file *os.File
	)
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		w, file = f, f
	}

	l := New(w, cfg.Level, cfg.Format)

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logger, logFile = l, file
	return nil
}

// New builds a logger writing to w without touching the global one.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Close closes the log file, if any, and resets to the default logger.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	var err error
	if logFile != nil {
		err = logFile.Close()
		logFile = nil
	}
	logger = nil
	return err
}

// GetLogger returns the global logger, falling back to an info-level text
// logger on stderr when Init was never called.
func GetLogger() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = New(os.Stderr, "info", "text")
	}
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { GetLogger().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { GetLogger().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { GetLogger().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { GetLogger().Error(msg, args...) }
