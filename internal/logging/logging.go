// README: zap logger construction shared by the entry point and tests.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger writing JSON to stderr. Level defaults to
// info and can be lowered with debug=true.
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Nop returns a discard-everything logger for tests and optional deps.
func Nop() *zap.Logger {
	return zap.NewNop()
}
