package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/elskow/shotlog/internal/config"
)

const (
	defaultConfigPath = "./config/server"
	envPrefix         = "SHOTLOG"
)

// LoadConfig reads .env (when present), the TOML file under CONFIG_PATH
// (default ./config/server) and SHOTLOG_* environment overrides.
func LoadConfig() (*config.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	return LoadConfigFrom(path)
}

func LoadConfigFrom(path string) (*config.AppConfig, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = config.EnvDevelopment
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(path)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	v.Set("environment", env)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Environment-specific server overrides, e.g. [server.production].
	if envSettings := v.GetStringMap(fmt.Sprintf("server.%s", env)); len(envSettings) > 0 {
		if err := v.UnmarshalKey(fmt.Sprintf("server.%s", env), &cfg.Server); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", "9090")
	v.SetDefault("grpc.max_receive_message_size", 4<<20)
	v.SetDefault("grpc.max_send_message_size", 4<<20)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "shotlog:")
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", time.Second)
	v.SetDefault("redis.write_timeout", time.Second)

	v.SetDefault("auth.issuer", "shotlog")
	v.SetDefault("auth.audience", "shotlog-web")
	v.SetDefault("auth.access_token_duration", 15*time.Minute)
	v.SetDefault("auth.refresh_token_duration", 7*24*time.Hour)
	v.SetDefault("auth.reset_token_duration", time.Hour)
	v.SetDefault("auth.revoke_all_on_reuse", true)
	v.SetDefault("auth.store_timeout", 3*time.Second)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.reset_url", "http://localhost:5173/reset-password?token=%s")

	v.SetDefault("password.min_length", 8)
	v.SetDefault("password.max_length", 72)
	v.SetDefault("password.require_upper", true)
	v.SetDefault("password.require_lower", true)
	v.SetDefault("password.require_digit", true)
	v.SetDefault("password.require_special", false)

	v.SetDefault("lockout.max_attempts", 5)
	v.SetDefault("lockout.duration", 15*time.Minute)

	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.login", 10)
	v.SetDefault("rate_limit.register", 5)
	v.SetDefault("rate_limit.forgot_password", 5)
	v.SetDefault("rate_limit.reset_password", 10)

	v.SetDefault("observability.metrics_path", "/metrics")

	v.SetDefault("audit.retention", 90*24*time.Hour)
	v.SetDefault("audit.cleanup_interval", 6*time.Hour)

	v.SetDefault("migration.auto_migrate", true)
	v.SetDefault("migration.dir", "")

	// Bound so AutomaticEnv can fill them without a config file entry.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("bootstrap.admin_email", "")
	v.SetDefault("bootstrap.admin_password", "")
	v.SetDefault("observability.sentry_dsn", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
}
