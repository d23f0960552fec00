// Package logging builds the diagnostic logger shared by the commands.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to stderr. Only warnings and
// errors are shown unless verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.DisableStacktrace = true
	config.Sampling = nil
	config.OutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Leveled adapts a zap logger to the key/value interface used by
// go-retryablehttp.
type Leveled struct {
	s *zap.SugaredLogger
}

// NewLeveled wraps l.
func NewLeveled(l *zap.Logger) Leveled {
	return Leveled{s: l.Sugar()}
}

func (l Leveled) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l Leveled) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l Leveled) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l Leveled) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
