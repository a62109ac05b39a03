// Package gwlog is the gateway's package-level logging handle: one Init
// call, package-level functions used from every handler, backed by a
// structured zap logger.
package gwlog

import (
	"go.uber.org/zap"
)

var logger *zap.SugaredLogger

// Init installs the package-level logger at the given level ("debug",
// "info", "warn", or "error"). It must be called once before any other
// package in this module logs; Info/Warn/Error are no-ops until then.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}
	cfg.Level = lvl
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = l.Sugar()
	return nil
}

// Sync flushes any buffered log entries; call it before process exit.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// Info logs msg at info level with structured key/value pairs.
func Info(msg string, kv ...interface{}) {
	if logger != nil {
		logger.Infow(msg, kv...)
	}
}

// Warn logs msg at warn level with structured key/value pairs.
func Warn(msg string, kv ...interface{}) {
	if logger != nil {
		logger.Warnw(msg, kv...)
	}
}

// Error logs msg at error level with structured key/value pairs.
func Error(msg string, kv ...interface{}) {
	if logger != nil {
		logger.Errorw(msg, kv...)
	}
}
