package observability

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewMetrics),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, cfg *config.AppConfig, logger *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := InitSentry(cfg.Observability.SentryDSN, cfg.Environment); err != nil {
				logger.Error("failed to initialise sentry", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			FlushSentry()
			return nil
		},
	})
}
