package goEnroll

import (
	"context"

	"go.uber.org/zap"
)

// Notifier surfaces short user-facing messages (toasts in a UI, lines in a
// terminal). Implementations must not block.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Warn(msg string)
	Error(msg string)
}

type NoOpNotifier struct{}

func (NoOpNotifier) Info(string)    {}
func (NoOpNotifier) Success(string) {}
func (NoOpNotifier) Warn(string)    {}
func (NoOpNotifier) Error(string)   {}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) log() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger.Named("notify")
}

func (n LogNotifier) Info(msg string)    { n.log().Info(msg) }
func (n LogNotifier) Success(msg string) { n.log().Info(msg, zap.Bool("success", true)) }
func (n LogNotifier) Warn(msg string)    { n.log().Warn(msg) }
func (n LogNotifier) Error(msg string)   { n.log().Error(msg) }

// SecureSession is an externally held session (for example a hardware
// security module handle) that must be cleared on logout.
type SecureSession interface {
	Clear(ctx context.Context) error
}

type noopSecureSession struct{}

func (noopSecureSession) Clear(context.Context) error { return nil }
