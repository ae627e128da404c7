package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig is the immutable configuration root constructed once at startup
// and passed by reference into each component's constructor.
type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Password  PasswordSettings  `mapstructure:"password"`
	TwoFactor TwoFactorSettings `mapstructure:"two_factor"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// DefaultRole is granted to newly registered accounts. Empty disables
	// automatic role assignment.
	DefaultRole string `mapstructure:"default_role"`
	// CORSAllowedOrigins lists origins permitted to call the API from a
	// browser. Empty allows any origin.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection used for permission caching,
// rate limiting, and token revocation state.
type RedisSettings struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	DB                    int           `mapstructure:"db"`
	Password              string        `mapstructure:"password"`
	TLSEnabled            bool          `mapstructure:"tls_enabled"`
	PermissionCacheTTL    time.Duration `mapstructure:"permission_cache_ttl"`
	RevocationPrefix      string        `mapstructure:"revocation_prefix"`
	RateLimitPrefix       string        `mapstructure:"rate_limit_prefix"`
	PermissionCachePrefix string        `mapstructure:"permission_cache_prefix"`
}

// KafkaSettings configures the security event producer.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// JWTSettings configures access and refresh token issuance.
type JWTSettings struct {
	SigningKey      string        `mapstructure:"signing_key"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// PasswordSettings configures PBKDF2 hashing and the strength policy.
type PasswordSettings struct {
	Iterations       int  `mapstructure:"iterations"`
	SaltLength       int  `mapstructure:"salt_length"`
	KeyLength        int  `mapstructure:"key_length"`
	MinLength        int  `mapstructure:"min_length"`
	MaxLength        int  `mapstructure:"max_length"`
	RequireUppercase bool `mapstructure:"require_uppercase"`
	RequireLowercase bool `mapstructure:"require_lowercase"`
	RequireDigit     bool `mapstructure:"require_digit"`
	RequireSymbol    bool `mapstructure:"require_symbol"`
	MaxRepeatedRun   int  `mapstructure:"max_repeated_run"`
	MinStrengthScore int  `mapstructure:"min_strength_score"`
}

// TwoFactorSettings configures TOTP validation and recovery codes.
type TwoFactorSettings struct {
	Issuer             string        `mapstructure:"issuer"`
	CodeSkewSteps      uint          `mapstructure:"code_skew_steps"`
	RecoveryCodeCount  int           `mapstructure:"recovery_code_count"`
	RecoveryCodeLength int           `mapstructure:"recovery_code_length"`
	RecoveryCodeTTL    time.Duration `mapstructure:"recovery_code_ttl"`
}

// RateLimitSettings configures the per-key login guard.
type RateLimitSettings struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	WindowDuration    time.Duration `mapstructure:"window_duration"`
	BlacklistDuration time.Duration `mapstructure:"blacklist_duration"`
}

// LockoutSettings configures the account-level lockout.
type LockoutSettings struct {
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	Duration          time.Duration `mapstructure:"duration"`
}

type TelemetrySettings struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration from config files and AUTHCORE_-prefixed
// environment variables, applying defaults for anything unset.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	setDefaults(v)

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	if len(cfg.JWT.SigningKey) < 32 {
		return fmt.Errorf("jwt.signing_key must be at least 32 bytes")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		return fmt.Errorf("jwt.access_token_ttl must be positive")
	}
	if cfg.JWT.RefreshTokenTTL <= cfg.JWT.AccessTokenTTL {
		return fmt.Errorf("jwt.refresh_token_ttl must exceed the access token ttl")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "authcore")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.default_role", "member")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "authcore")
	v.SetDefault("postgres.database", "authcore")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.permission_cache_ttl", "5m")
	v.SetDefault("redis.revocation_prefix", "revoked")
	v.SetDefault("redis.rate_limit_prefix", "ratelimit")
	v.SetDefault("redis.permission_cache_prefix", "perms")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic_prefix", "auth")

	v.SetDefault("jwt.issuer", "authcore")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("password.iterations", 310000)
	v.SetDefault("password.salt_length", 16)
	v.SetDefault("password.key_length", 32)
	v.SetDefault("password.min_length", 10)
	v.SetDefault("password.max_length", 128)
	v.SetDefault("password.require_uppercase", true)
	v.SetDefault("password.require_lowercase", true)
	v.SetDefault("password.require_digit", true)
	v.SetDefault("password.require_symbol", true)
	v.SetDefault("password.max_repeated_run", 3)
	v.SetDefault("password.min_strength_score", 3)

	v.SetDefault("two_factor.issuer", "authcore")
	v.SetDefault("two_factor.code_skew_steps", 1)
	v.SetDefault("two_factor.recovery_code_count", 10)
	v.SetDefault("two_factor.recovery_code_length", 10)
	v.SetDefault("two_factor.recovery_code_ttl", "720h")

	v.SetDefault("rate_limit.max_attempts", 5)
	v.SetDefault("rate_limit.window_duration", "15m")
	v.SetDefault("rate_limit.blacklist_duration", "30m")

	v.SetDefault("lockout.max_failed_attempts", 5)
	v.SetDefault("lockout.duration", "15m")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.service_name", "authcore")
}
