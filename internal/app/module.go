package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/admin"
	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/auth"
	"github.com/elskow/shotlog/internal/cache"
	"github.com/elskow/shotlog/internal/database"
	"github.com/elskow/shotlog/internal/migration"
	"github.com/elskow/shotlog/internal/observability"
	"github.com/elskow/shotlog/internal/server"
)

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(server.LoadConfig),

		observability.Module(),

		// Storage; migrations must start before anything reads the schema.
		database.Module(),
		cache.Module(),
		migration.Module(),

		audit.Module(),
		auth.NewModule(),
		admin.Module(),

		// Server
		fx.Provide(
			fx.Annotate(
				func(m *database.Manager) server.Pinger { return m },
				fx.ResultTags(`name:"database"`),
			),
			fx.Annotate(
				func(m *cache.Manager) server.Pinger { return m },
				fx.ResultTags(`name:"cache"`),
			),
			server.NewServer,
		),

		// Start the server
		fx.Invoke(registerHooks),
	)
}

func newLogger() (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return server.NewLogger(env)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	srv *server.Server,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			return srv.Stop(ctx)
		},
	})
}
