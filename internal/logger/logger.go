// Package logger provides the process-wide structured logger for warden.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger = newZapLogger(false).Sugar()
)

// Initialize configures the global logger. Call once from the command wiring
// before any other package logs.
func Initialize(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	log = newZapLogger(debug).Sugar()
}

func newZapLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap only fails on invalid config; ours is static.
		panic(err)
	}
	return l
}

func logger() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a message at debug level.
func Debug(args ...any) { logger().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { logger().Debugf(format, args...) }

// Info logs a message at info level.
func Info(args ...any) { logger().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { logger().Infof(format, args...) }

// Warn logs a message at warn level.
func Warn(args ...any) { logger().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { logger().Warnf(format, args...) }

// Error logs a message at error level.
func Error(args ...any) { logger().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { logger().Errorf(format, args...) }

// Fatalf logs a formatted message at fatal level and exits.
func Fatalf(format string, args ...any) { logger().Fatalf(format, args...) }
