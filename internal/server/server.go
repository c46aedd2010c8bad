package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/elskow/shotlog/internal/admin"
	"github.com/elskow/shotlog/internal/api"
	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/auth"
	"github.com/elskow/shotlog/internal/config"
	"github.com/elskow/shotlog/internal/observability"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	config       *config.AppConfig
	log          *zap.Logger
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	checks       map[string]Pinger
}

type Params struct {
	fx.In

	Config         *config.AppConfig
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	AuthHandler    *auth.Handler
	AdminHandler   *admin.Handler
	AuthMiddleware *auth.AuthMiddleware
	AccountService *auth.GRPCHandler
	Database       Pinger `name:"database"`
	Cache          Pinger `name:"cache"`
}

func NewServer(p Params) *Server {
	s := &Server{
		config: p.Config,
		log:    p.Logger,
		checks: map[string]Pinger{
			"database": p.Database,
			"redis":    p.Cache,
		},
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(p.Config.Server.Host, p.Config.Server.Port),
		Handler:           s.routes(p),
		ReadTimeout:       p.Config.Server.ReadTimeout,
		ReadHeaderTimeout: p.Config.Server.ReadTimeout,
		WriteTimeout:      p.Config.Server.WriteTimeout,
	}

	if p.Config.GRPC.Enabled {
		grpcMetrics := grpc_prometheus.NewServerMetrics()
		grpcMetrics.EnableHandlingTimeHistogram()
		p.Metrics.Registry().MustRegister(grpcMetrics)

		s.grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor(), p.AuthMiddleware.UnaryInterceptor),
			grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor(), p.AuthMiddleware.StreamInterceptor),
			grpc.MaxRecvMsgSize(p.Config.GRPC.MaxReceiveMessageSize),
			grpc.MaxSendMsgSize(p.Config.GRPC.MaxSendMessageSize),
		)

		s.healthServer = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
		auth.RegisterAccountServer(s.grpcServer, p.AccountService)

		if p.Config.GRPC.EnableReflection {
			reflection.Register(s.grpcServer)
		}
		grpcMetrics.InitializeMetrics(s.grpcServer)
	}

	return s
}

func (s *Server) routes(p Params) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Recover(s.log))
	r.Use(observability.RequestID)
	r.Use(observability.RequestLogging(s.log, p.Metrics))
	r.Use(clientIP(s.config.Server.TrustProxy))
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}

	r.Get(api.Health, s.handleHealth)
	if path := s.config.Observability.MetricsPath; path != "" {
		r.Method(http.MethodGet, path, p.Metrics.Handler())
	}

	p.AuthHandler.RegisterRoutes(r)
	p.AdminHandler.RegisterRoutes(r)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// clientIP makes the caller's address available to the audit recorder and the
// rate limiter. Forwarding headers are honoured only when trustProxy is set.
func clientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := audit.WithIP(r.Context(), api.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
		if trustProxy {
			return middleware.RealIP(h)
		}
		return h
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, api.Envelope{Success: status == http.StatusOK, Data: resp})
}

// Handler exposes the HTTP router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds both listeners and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.log.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr),
		zap.Object("config", serverConfigToField(s.config)),
	)

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()

	if s.grpcServer == nil {
		return nil
	}

	grpcAddr := net.JoinHostPort(s.config.Server.Host, s.config.GRPC.Port)
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("failed to listen for grpc: %w", err)
	}

	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.log.Info("Starting gRPC server", zap.String("address", grpcAddr))

	go func() {
		if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("grpc server stopped", zap.Error(err))
		}
	}()

	return nil
}

func serverConfigToField(cfg *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", cfg.Environment)
		enc.AddDuration("read_timeout", cfg.Server.ReadTimeout)
		enc.AddDuration("write_timeout", cfg.Server.WriteTimeout)
		enc.AddDuration("request_timeout", cfg.Server.RequestTimeout)
		enc.AddBool("grpc_enabled", cfg.GRPC.Enabled)
		enc.AddBool("reflection_enabled", cfg.GRPC.EnableReflection)
		return nil
	})
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down servers")

	if s.grpcServer != nil {
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}

	if timeout := s.config.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
