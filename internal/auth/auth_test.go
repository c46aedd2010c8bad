package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/shotlog/internal/audit"
	"github.com/elskow/shotlog/internal/cache"
	"github.com/elskow/shotlog/internal/config"
)

const (
	testSecret   = "test-secret-key-that-is-long-enough-for-hs256"
	testPassword = "Passw0rd!"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger
}

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Environment: config.EnvTesting,
		Auth: config.AuthConfig{
			JWTSecret:            testSecret,
			Issuer:               "shotlog-test",
			Audience:             "shotlog-test-web",
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
			ResetTokenDuration:   time.Hour,
			RevokeAllOnReuse:     true,
			StoreTimeout:         time.Second,
			BcryptCost:           bcrypt.MinCost,
			ResetURL:             "http://localhost/reset?token=%s",
		},
		Password: config.PasswordPolicyConfig{
			MinLength:    8,
			MaxLength:    72,
			RequireUpper: true,
			RequireLower: true,
			RequireDigit: true,
		},
		Lockout: config.LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			Window:         time.Minute,
			Login:          100,
			Register:       100,
			ForgotPassword: 100,
			ResetPassword:  100,
		},
	}
}

func newTestCache(t *testing.T) (*cache.Manager, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewManagerWithClient(client, "test:", zap.NewNop()), srv
}

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]ResetToken
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, email string, token ResetToken) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = make(map[string]ResetToken)
	}
	n.tokens[email] = token
	return nil
}

func (n *captureNotifier) token(email string) (ResetToken, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tok, ok := n.tokens[email]
	return tok, ok
}

type captureAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *captureAuditor) Record(_ context.Context, entry audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *captureAuditor) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Action, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) AuthEvent(event, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[event+"/"+outcome]++
}

func (m *countingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

type testEnv struct {
	cfg      *config.AppConfig
	svc      *Service
	repo     *mockRepository
	signer   *TokenSigner
	refresh  RefreshLedger
	reset    ResetLedger
	cache    *cache.Manager
	redis    *miniredis.Miniredis
	notifier *captureNotifier
	auditor  *captureAuditor
	metrics  *countingMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, newTestConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg *config.AppConfig) *testEnv {
	t.Helper()

	c, srv := newTestCache(t)
	env := &testEnv{
		cfg:      cfg,
		repo:     newMockRepository(),
		signer:   NewTokenSigner(&cfg.Auth),
		refresh:  NewRefreshLedger(c, cfg.Auth.RefreshTokenDuration),
		reset:    NewResetLedger(c, cfg.Auth.ResetTokenDuration),
		cache:    c,
		redis:    srv,
		notifier: &captureNotifier{},
		auditor:  &captureAuditor{},
		metrics:  &countingMetrics{},
	}

	env.svc = NewService(Deps{
		Config:   cfg,
		Logger:   newTestLogger(t),
		Users:    env.repo,
		Signer:   env.signer,
		Refresh:  env.refresh,
		Reset:    env.reset,
		Hasher:   NewHasher(cfg.Auth.BcryptCost),
		Notifier: env.notifier,
		Auditor:  env.auditor,
		Metrics:  env.metrics,
	})
	return env
}

// register creates a user through the service and returns its profile.
func (e *testEnv) register(t *testing.T, email string) *Profile {
	t.Helper()
	profile, err := e.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: testPassword,
	})
	require.NoError(t, err)
	return profile
}

func (e *testEnv) promote(t *testing.T, email string) {
	t.Helper()
	user, err := e.repo.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NoError(t, e.repo.SetRole(context.Background(), user.ID, RoleAdmin))
}
