// Package logging provides promptwheel's process-wide structured logger,
// grounded on the zap wiring in theRebelliousNerd-codenerd's cmd/nerd
// (zap.NewProductionConfig, level toggled by a verbose flag) but scoped to
// promptwheel's own levels rather than a CLI's interactive/non-interactive
// split.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.Logger = zap.NewNop()
)

// Options configures Init.
type Options struct {
	Debug bool
	// Development renders human-readable console output instead of JSON,
	// for interactive CLI use; JSON is the default so `status --follow`
	// and the NDJSON event ledger agree on shape.
	Development bool
}

// Init builds and installs the process-wide logger. Safe to call once at
// startup; later calls replace the global logger (used by tests).
func Init(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	mu.Lock()
	global = logger
	mu.Unlock()
	return logger, nil
}

// L returns the process-wide logger. Before Init is called it is a no-op
// sink, so packages can log unconditionally during tests.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return global
}

// Sync flushes the process-wide logger's buffered entries. Errors from
// Sync against a console sink (e.g. "sync /dev/stderr: invalid argument")
// are expected on some platforms and deliberately ignored by callers,
// matching the teacher's own `_ = logger.Sync()` pattern.
func Sync() {
	_ = L().Sync()
}

// With returns a child logger scoped to a ticket or run, the common case
// across the orchestrator, coder, and isolation packages.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
