// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// MinJWTSecretLength is the minimum HMAC secret length outside development.
const MinJWTSecretLength = 32

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Durable store (PostgreSQL)
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Fast cache (Redis)
	RedisURL      string `env:"REDIS_URL,required,notEmpty"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"50"`

	// Upper bound for every individual store call
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`

	// Tokens
	JWTSecret              string `env:"JWT_SECRET,required,notEmpty,unset"`
	JWTIssuer              string `env:"JWT_ISSUER" envDefault:""`
	AccessTokenTTLMinutes  int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"5"`
	RefreshTokenTTLMinutes int    `env:"REFRESH_TOKEN_TTL_MINUTES" envDefault:"30"`
	TokenAuditEnabled      bool   `env:"TOKEN_AUDIT_ENABLED" envDefault:"false"`

	// Token audit worker
	AuditBatchSize    int           `env:"AUDIT_BATCH_SIZE" envDefault:"100"`
	AuditBlockTimeout time.Duration `env:"AUDIT_BLOCK_TIMEOUT" envDefault:"2s"`

	// Password hashing
	PasswordHashAlgo string `env:"PASSWORD_HASH_ALGO" envDefault:"argon2id"`
	Argon2Time       uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Argon2MemoryKB   uint32 `env:"ARGON2_MEMORY_KB" envDefault:"65536"`
	Argon2Threads    uint8  `env:"ARGON2_THREADS" envDefault:"4"`
	BcryptCost       int    `env:"BCRYPT_COST" envDefault:"10"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Per-IP rate limiting on /register and /login
	AuthRateLimitEnabled bool `env:"AUTH_RATE_LIMIT_ENABLED" envDefault:"true"`
	AuthRateLimitRPS     int  `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	AuthRateLimitBurst   int  `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLMinutes) * time.Minute
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if !c.IsDevelopment() && len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes outside development", MinJWTSecretLength))
	}
	if c.AccessTokenTTLMinutes <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL_MINUTES must be positive"))
	}
	if c.RefreshTokenTTLMinutes <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL_MINUTES must be positive"))
	}
	if c.RefreshTokenTTLMinutes < c.AccessTokenTTLMinutes {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL_MINUTES must not be shorter than ACCESS_TOKEN_TTL_MINUTES"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.TokenAuditEnabled && (c.AuditBatchSize <= 0 || c.AuditBlockTimeout <= 0) {
		errs = append(errs, errors.New("AUDIT_BATCH_SIZE and AUDIT_BLOCK_TIMEOUT must be positive"))
	}
	if c.AuthRateLimitEnabled && (c.AuthRateLimitRPS <= 0 || c.AuthRateLimitBurst <= 0) {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT_RPS and AUTH_RATE_LIMIT_BURST must be positive"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
