package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

func init() {
	Logger = log.New(os.Stderr)

	// Set log level from environment variable
	level, err := ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		// Default to INFO level if invalid
		level = log.InfoLevel
	}
	Logger.SetLevel(level)
}

// ParseLevel maps a level name to a log level. The empty string is INFO.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return log.DebugLevel, nil
	case "", "INFO":
		return log.InfoLevel, nil
	case "WARN", "WARNING":
		return log.WarnLevel, nil
	case "ERROR":
		return log.ErrorLevel, nil
	case "FATAL":
		return log.FatalLevel, nil
	}
	return log.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// SetLevel changes the level of the package logger by name.
func SetLevel(s string) error {
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	Logger.SetLevel(level)
	return nil
}

// Convenience functions for common operations
func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}
