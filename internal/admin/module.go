package admin

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/auth"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(svc *auth.Service, recorder *audit.Recorder, gate *auth.AuthMiddleware, log *zap.Logger) *Handler {
				return NewHandler(svc, recorder, gate, log)
			},
		),
	)
}
