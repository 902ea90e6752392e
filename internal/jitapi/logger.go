package jitapi

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// Logger returns the logger used by the pipeline. It is a no-op logger unless SetLogger was called.
func Logger() *zap.Logger {
	return logger.Load()
}

// SetLogger replaces the pipeline logger. A nil logger restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}
