package engine

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	nop    = zap.NewNop()
	logger atomic.Pointer[zap.Logger]
)

// Logger returns the shared logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

// SetLogger replaces the shared logger. Components created afterwards use it.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = nop
	}
	logger.Store(l)
}
