// Package logger builds the zap logger shared by every component.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects verbosity and encoding.
type Options struct {
	// Verbose logs at debug level, which includes one line per chunk.
	Verbose bool
	// Quiet only logs warnings and errors. Verbose wins when both are set.
	Quiet bool
	// JSON switches from the console encoder to JSON.
	JSON bool
}

// Level returns the minimum level for opts.
func (o Options) Level() zapcore.Level {
	switch {
	case o.Verbose:
		return zapcore.DebugLevel
	case o.Quiet:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// New builds a logger writing to stderr.
func New(opts Options) (*zap.Logger, error) {
	cfg := config(opts)
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log, nil
}

func config(opts Options) zap.Config {
	var (
		cfg zap.Config
		enc zapcore.EncoderConfig
	)
	if opts.Verbose {
		cfg = zap.NewDevelopmentConfig()
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		cfg = zap.NewProductionConfig()
		enc = zap.NewProductionEncoderConfig()
		cfg.DisableCaller = true
		cfg.Sampling = nil
	}
	cfg.Level = zap.NewAtomicLevelAt(opts.Level())

	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.TimeKey = "timestamp"
	enc.NameKey = "logger"
	enc.MessageKey = "msg"

	cfg.Encoding = "console"
	if opts.JSON {
		cfg.Encoding = "json"
	} else if !opts.Verbose {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.EncoderConfig = enc
	cfg.DisableStacktrace = !opts.Verbose
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}
