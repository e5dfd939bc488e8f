package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	global = zerolog.Nop()
	closer io.Closer
)

// Init initializes the logger. Console output is human readable; file output
// is one JSON object per line.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
	if !enabled {
		global = zerolog.Nop()
		return nil
	}

	var writers []io.Writer
	if logFile != "" {
		dir := filepath.Dir(logFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	if console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	global = zerolog.New(io.MultiWriter(writers...)).
		Level(parseLevel(levelStr)).
		With().Timestamp().Logger()
	return nil
}

// SetOutput routes logs to w at the given level. Tests use it to capture output.
func SetOutput(w io.Writer, levelStr string) {
	mu.Lock()
	defer mu.Unlock()
	global = zerolog.New(w).Level(parseLevel(levelStr)).With().Timestamp().Logger()
}

// With returns a structured child logger tagged with a component name.
func With(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global.With().Str("component", component).Logger()
}

func parseLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := global
	return &l
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}
