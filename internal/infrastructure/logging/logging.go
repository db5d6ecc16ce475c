package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON production logger. LOG_LEVEL overrides the info default
// and LOG_FORMAT=console switches to the development encoder.
func New() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if os.Getenv("LOG_FORMAT") == "console" {
		cfg = zap.NewDevelopmentConfig()
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if lvl, err := zapcore.ParseLevel(v); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return l.Named("ci-admission")
}
