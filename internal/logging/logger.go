package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger. prod gets JSON output, everything else the
// colored development console encoder.
func New(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if env == "prod" || env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.OutputPaths = []string{"stdout"}

	return config.Build()
}

// Must is New for main packages, where a broken logger is fatal.
func Must(env, level string) *zap.Logger {
	logger, err := New(env, level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return logger
}
