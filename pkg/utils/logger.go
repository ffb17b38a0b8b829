// File: pkg/utils/logger.go
package utils

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger is the process-wide logger, configured once at startup
var Logger *logrus.Logger

// InitLogger configures the global logger from the logging config
func InitLogger(level, format, output, file string) error {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return NewAppError(ErrCodeValidation, "Unknown log level", level)
	}
	l.SetLevel(parsed)

	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimestampFormat,
		})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: logTimestampFormat,
		})
	}

	switch output {
	case "file":
		if file == "" {
			return NewAppError(ErrCodeValidation, "Log output is file but no path is set")
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.SetOutput(f)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		l.SetOutput(os.Stdout)
	}

	Logger = l
	return nil
}

// GetLogger returns the global logger. Before InitLogger runs (tests,
// early startup paths) it falls back to the service defaults.
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}
