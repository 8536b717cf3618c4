package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger = zap.SugaredLogger

func New() *Logger {
	return NewWithLevel("")
}

// NewWithLevel builds a production logger at the named level (debug, info,
// warn, error). Unknown or empty names fall back to info.
func NewWithLevel(level string) *Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Nop discards everything; used by tests.
func Nop() *Logger {
	return zap.NewNop().Sugar()
}
