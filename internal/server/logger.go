package server

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elskow/shotlog/internal/config"
)

func NewLogger(env string) (*zap.Logger, error) {
	switch env {
	case config.EnvProduction:
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	case config.EnvTesting:
		return zap.NewNop(), nil
	default:
		return zap.NewDevelopment()
	}
}
