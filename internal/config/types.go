package config

import (
	"errors"
	"fmt"
	"time"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// TrustProxy takes the client address from X-Real-IP / X-Forwarded-For.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

type GRPCConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	Port                  string `mapstructure:"port"`
	EnableReflection      bool   `mapstructure:"enable_reflection"`
	MaxReceiveMessageSize int    `mapstructure:"max_receive_message_size"`
	MaxSendMessageSize    int    `mapstructure:"max_send_message_size"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// DSN returns the libpq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host,
		c.User,
		c.Password,
		c.Name,
		c.Port,
		c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	JWTSecret            string        `mapstructure:"jwt_secret"`
	Issuer               string        `mapstructure:"issuer"`
	Audience             string        `mapstructure:"audience"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
	ResetTokenDuration   time.Duration `mapstructure:"reset_token_duration"`
	RevokeAllOnReuse     bool          `mapstructure:"revoke_all_on_reuse"`
	StoreTimeout         time.Duration `mapstructure:"store_timeout"`
	BcryptCost           int           `mapstructure:"bcrypt_cost"`
	ResetURL             string        `mapstructure:"reset_url"`
}

type PasswordPolicyConfig struct {
	MinLength      int  `mapstructure:"min_length"`
	MaxLength      int  `mapstructure:"max_length"`
	RequireUpper   bool `mapstructure:"require_upper"`
	RequireLower   bool `mapstructure:"require_lower"`
	RequireDigit   bool `mapstructure:"require_digit"`
	RequireSpecial bool `mapstructure:"require_special"`
}

type LockoutConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Duration    time.Duration `mapstructure:"duration"`
}

type RateLimitConfig struct {
	Window         time.Duration `mapstructure:"window"`
	Login          int           `mapstructure:"login"`
	Register       int           `mapstructure:"register"`
	ForgotPassword int           `mapstructure:"forgot_password"`
	ResetPassword  int           `mapstructure:"reset_password"`
}

type BootstrapConfig struct {
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

type ObservabilityConfig struct {
	SentryDSN   string `mapstructure:"sentry_dsn"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type AuditConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type MigrationConfig struct {
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	Dir         string `mapstructure:"dir"`
}

type AppConfig struct {
	Environment   string               `mapstructure:"environment"`
	Server        ServerConfig         `mapstructure:"server"`
	GRPC          GRPCConfig           `mapstructure:"grpc"`
	Database      DatabaseConfig       `mapstructure:"database"`
	Redis         RedisConfig          `mapstructure:"redis"`
	Auth          AuthConfig           `mapstructure:"auth"`
	Password      PasswordPolicyConfig `mapstructure:"password"`
	Lockout       LockoutConfig        `mapstructure:"lockout"`
	RateLimit     RateLimitConfig      `mapstructure:"rate_limit"`
	Bootstrap     BootstrapConfig      `mapstructure:"bootstrap"`
	Observability ObservabilityConfig  `mapstructure:"observability"`
	Audit         AuditConfig          `mapstructure:"audit"`
	Migration     MigrationConfig      `mapstructure:"migration"`
}

const minSecretLength = 32

// Validate rejects configurations the auth core cannot run safely with.
func (c *AppConfig) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d characters", minSecretLength))
	}
	if c.Auth.Issuer == "" || c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.issuer and auth.audience are required"))
	}
	if c.Auth.AccessTokenDuration <= 0 {
		errs = append(errs, errors.New("auth.access_token_duration must be positive"))
	}
	if c.Auth.RefreshTokenDuration <= c.Auth.AccessTokenDuration {
		errs = append(errs, errors.New("auth.refresh_token_duration must exceed the access token duration"))
	}
	if c.Auth.ResetTokenDuration <= 0 {
		errs = append(errs, errors.New("auth.reset_token_duration must be positive"))
	}
	if c.Password.MinLength < 1 {
		errs = append(errs, errors.New("password.min_length must be at least 1"))
	}
	if c.Password.MaxLength > 0 && c.Password.MaxLength < c.Password.MinLength {
		errs = append(errs, errors.New("password.max_length must not be below password.min_length"))
	}
	if c.Lockout.MaxAttempts < 1 || c.Lockout.Duration <= 0 {
		errs = append(errs, errors.New("lockout.max_attempts and lockout.duration must be positive"))
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = append(errs, errors.New("bootstrap.admin_email and bootstrap.admin_password must be set together"))
	}

	if c.Audit.Retention > 0 && c.Audit.CleanupInterval <= 0 {
		errs = append(errs, errors.New("audit.cleanup_interval must be positive when audit.retention is set"))
	}

	return errors.Join(errs...)
}
