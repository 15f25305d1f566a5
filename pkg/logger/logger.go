package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. format is "json" (production encoder) or "console".
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Install makes l the process-wide logger used by the convenience functions below.
// It returns a function restoring the previous globals.
func Install(l *zap.Logger) func() {
	return zap.ReplaceGlobals(l)
}

// Convenience functions for startup and shutdown messages in main.
func Info(format string, v ...interface{}) {
	zap.S().Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	zap.S().Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	zap.S().Debugf(format, v...)
}

func Fatal(format string, v ...interface{}) {
	zap.S().Fatalf(format, v...)
}
