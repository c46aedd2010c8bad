package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/config"
)

// Manager owns the Redis client shared by the token ledgers and the rate limiter.
type Manager struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewManager(config *config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if config.DialTimeout > 0 {
		opt.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opt.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opt.WriteTimeout = config.WriteTimeout
	}

	return &Manager{
		client: redis.NewClient(opt),
		prefix: config.KeyPrefix,
		logger: logger,
	}, nil
}

// NewManagerWithClient wraps an existing client, used by tests running miniredis.
func NewManagerWithClient(client *redis.Client, prefix string, logger *zap.Logger) *Manager {
	return &Manager{client: client, prefix: prefix, logger: logger}
}

func (m *Manager) Client() *redis.Client {
	return m.client
}

// Key namespaces a key with the configured prefix.
func (m *Manager) Key(parts ...string) string {
	key := m.prefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *Manager) Close() error {
	return m.client.Close()
}
