// Package logger provides leveled structured logging backed by zap.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger *zap.SugaredLogger

// ParseLevel maps a configured level name to a zap level. Unknown names fall
// back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
// Format "json" selects zap's production encoder; anything else logs
// human-readable console lines.
func Init(level string, format string) {
	var zapConfig zap.Config
	if strings.ToLower(format) == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zapConfig.Level.SetLevel(ParseLevel(level))
	zapConfig.OutputPaths = []string{"stderr"}

	l, err := zapConfig.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't initialize zap logger: %v\n", err)
		os.Exit(1)
	}
	defaultLogger = l.Sugar()
}

// Use installs an existing zap logger, e.g. zaptest's in tests.
func Use(l *zap.Logger) {
	if l == nil {
		defaultLogger = nil
		return
	}
	defaultLogger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Sync flushes buffered entries.
func Sync() {
	if defaultLogger != nil {
		_ = defaultLogger.Sync()
	}
}

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
		_ = defaultLogger.Sync()
	} else {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	os.Exit(1)
}
