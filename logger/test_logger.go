package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger returns a logger that records entries in memory, for tests
// that assert on log output.
func NewTestLogger() (*CtxZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &CtxZapLogger{
		base:   zap.New(core),
		module: "test",
	}, logs
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *CtxZapLogger {
	return &CtxZapLogger{
		base:   zap.NewNop(),
		module: "test",
	}
}
