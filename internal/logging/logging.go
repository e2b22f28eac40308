// Package logging builds the host's zap logger.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoding.
type Config struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// Development switches to a colored console encoder with caller info.
	Development bool
	// Output defaults to stderr, leaving stdout to command output.
	Output io.Writer
}

// New builds a logger. Production output is JSON.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	opts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(os.Stderr))}
	if cfg.Development {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(ec)
		opts = append(opts, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), zap.NewAtomicLevelAt(level))
	return zap.New(core, opts...), nil
}

// ParseLevel parses a level name; empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	return zapcore.ParseLevel(s)
}
