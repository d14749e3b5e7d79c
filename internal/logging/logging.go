// Package logging constructs the zap logger used across foreman.
//
// Structured logs are the operator-facing diagnostic stream; the activity
// log (internal/events) is the separate append-only audit narrative.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger writing to stderr. verbose lowers the
// level to Debug. Console encoding: foreman is a CLI daemon, not a
// log-shipping service.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Nop returns a no-op logger for tests and for callers that have not set
// up logging yet.
func Nop() *zap.Logger { return zap.NewNop() }
