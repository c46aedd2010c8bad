package audit

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewRepository,
			func(repo Repository, logger *zap.Logger, cfg *config.AppConfig) *Recorder {
				return NewRecorder(repo, logger, cfg.Auth.StoreTimeout)
			},
			func(repo Repository, logger *zap.Logger, cfg *config.AppConfig) *Pruner {
				return NewPruner(repo, cfg.Audit.Retention, cfg.Audit.CleanupInterval, logger)
			},
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, pruner *Pruner) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pruner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pruner.Stop()
			return nil
		},
	})
}
