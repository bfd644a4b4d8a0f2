package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pbaity/hubscript/pkg/models"
)

var globalLogger *slog.Logger

// Init initializes the global logger based on application settings.
// Output goes to w, or os.Stdout when w is nil. Empty level and format
// default to info and text.
func Init(settings models.ApplicationSettings, w io.Writer) error {
	var level slog.Level
	switch strings.ToLower(settings.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level specified: %q", settings.LogLevel)
	}

	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(settings.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format specified: %q", settings.LogFormat)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
	globalLogger.Debug("Logger initialized", "level", level.String(), "format", settings.LogFormat)
	return nil
}

// L returns the initialized global logger instance, falling back to the slog
// default when Init has not been called.
func L() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}
