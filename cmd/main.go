// Command shotlog runs the shotlog auth API: HTTP on server.port and gRPC on
// server.grpc_port.
package main

import (
	"flag"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/app"
	"github.com/elskow/shotlog/internal/config"
	"github.com/elskow/shotlog/internal/server"
)

func main() {
	configDir := flag.String("config", "", "directory holding config.toml (overrides CONFIG_PATH)")
	env := flag.String("env", "", "runtime environment (overrides APP_ENV)")
	flag.Parse()

	if *configDir != "" {
		os.Setenv("CONFIG_PATH", *configDir)
	}
	if *env != "" {
		os.Setenv("APP_ENV", *env)
	}
	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", config.EnvDevelopment)
	}

	logger, err := server.NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting shotlog",
		zap.String("env", os.Getenv("APP_ENV")),
		zap.String("config_path", os.Getenv("CONFIG_PATH")),
	)

	fx.New(
		app.Module(),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	).Run()
}
