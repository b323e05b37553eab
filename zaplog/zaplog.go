// Package zaplog adapts a zap logger to the ragsync Logger interface.
package zaplog

import (
	"go.uber.org/zap"

	"github.com/lmarcho/ragsync"
)

// Logger wraps a zap sugared logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ ragsync.Logger = (*Logger)(nil)

// New wraps the given zap logger. Callers own the underlying logger and
// its Sync.
func New(l *zap.Logger) *Logger {
	return &Logger{sugar: l.Sugar()}
}

// NewProduction builds a production-configured logger. debug lowers the
// level to include debug output.
func NewProduction(debug bool) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return New(l), nil
}

// Debug implements ragsync.Logger.
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Info implements ragsync.Logger.
func (l *Logger) Info(msg string, args ...any) { l.sugar.Infow(msg, args...) }

// Warn implements ragsync.Logger.
func (l *Logger) Warn(msg string, args ...any) { l.sugar.Warnw(msg, args...) }

// Error implements ragsync.Logger.
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
