package auth

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/cache"
	"github.com/elskow/shotlog/internal/config"
	"github.com/elskow/shotlog/internal/observability"
)

// NewModule returns the auth module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			// Provide repository
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			// Provide token signer
			func(cfg *config.AppConfig) *TokenSigner {
				return NewTokenSigner(&cfg.Auth)
			},
			// Provide ledgers
			func(cfg *config.AppConfig, c *cache.Manager) RefreshLedger {
				return NewRefreshLedger(c, cfg.Auth.RefreshTokenDuration)
			},
			func(cfg *config.AppConfig, c *cache.Manager) ResetLedger {
				return NewResetLedger(c, cfg.Auth.ResetTokenDuration)
			},
			// Provide notifier
			func(cfg *config.AppConfig, log *zap.Logger) Notifier {
				return NewLogNotifier(log, cfg.Auth.ResetURL, cfg.Environment == config.EnvDevelopment)
			},
			// Provide service
			func(
				cfg *config.AppConfig,
				log *zap.Logger,
				repo Repository,
				signer *TokenSigner,
				refresh RefreshLedger,
				reset ResetLedger,
				notifier Notifier,
				recorder *audit.Recorder,
				metrics *observability.Metrics,
			) *Service {
				return NewService(Deps{
					Config:   cfg,
					Logger:   log,
					Users:    repo,
					Signer:   signer,
					Refresh:  refresh,
					Reset:    reset,
					Hasher:   NewHasher(cfg.Auth.BcryptCost),
					Notifier: notifier,
					Auditor:  recorder,
					Metrics:  metrics,
				})
			},
			// Provide middleware
			NewAuthMiddleware,
			func(cfg *config.AppConfig, c *cache.Manager, log *zap.Logger, metrics *observability.Metrics) *RateLimiter {
				return NewRateLimiter(c, cfg.RateLimit.Window, log, metrics)
			},
			// Provide handlers
			NewGRPCHandler,
			func(svc *Service, gate *AuthMiddleware, limiter *RateLimiter, cfg *config.AppConfig, log *zap.Logger) *Handler {
				return NewHandler(svc, gate, limiter, cfg.RateLimit, log)
			},
		),
		fx.Invoke(registerBootstrap),
	)
}

func registerBootstrap(lifecycle fx.Lifecycle, cfg *config.AppConfig, svc *Service, log *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Bootstrap.AdminEmail == "" {
				return nil
			}
			if err := svc.BootstrapAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
				log.Error("failed to bootstrap admin user", zap.Error(err))
				return err
			}
			return nil
		},
	})
}
