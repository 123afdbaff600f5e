// Package logging owns the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Setup builds the default logger. level is debug|info|warn|error and format
// is json|console.
func Setup(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	Set(l)
	return l, nil
}

// Set replaces the default logger.
func Set(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// L returns the default logger. It is a no-op logger until Setup or Set runs.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// LogTransform logs a pipeline step that turned inputCount records into
// outputCount.
func LogTransform(stage string, inputCount, outputCount int, duration time.Duration) {
	L().Info("transformed",
		zap.String("stage", stage),
		zap.Int("in", inputCount),
		zap.Int("out", outputCount),
		zap.Duration("duration", duration),
	)
}

// LogError logs a failed operation.
func LogError(stage, operation string, err error) {
	L().Error(operation+" failed", zap.String("stage", stage), zap.Error(err))
}
