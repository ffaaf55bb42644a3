// Package log wires this module's ambient logging stack: go.uber.org/zap for
// structured logging, with an optional gopkg.in/natefinch/lumberjack.v2-backed
// rotating file core for long-running reactor processes. Every package in this
// module logs through a *zap.Logger handed to it at construction time (via a
// Reactor, see internal/reactor) rather than a shared global, but New and
// NewRotating here are the constructors library consumers are expected to reach for.
package log

import (
	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger built from zap's production config (JSON entries on stderr) at
// the given level ("debug", "info", "warn", "error"). Unrecognized levels fall back to
// "info".
func New(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// RotatingConfig configures the lumberjack-backed file sink used by NewRotating.
type RotatingConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewRotating builds a zap.Logger that writes JSON-encoded entries to a
// lumberjack.Logger, for processes that run a reactor for long enough to need log
// rotation rather than console output.
func NewRotating(cfg RotatingConfig, level zapcore.Level) *zap.Logger {
	writer := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
	return zap.New(core)
}
