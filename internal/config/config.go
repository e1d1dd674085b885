package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAppName         = "CarePoint"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultOTPTTL          = 10 * time.Minute
	defaultLoginRateLimit  = 5
	defaultTokenIssuer     = "carepoint"
	devJWTSecret           = "dev-access-secret"
	devRefreshSecret       = "dev-refresh-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	Env             string
	Port            string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	JWTSecret       string
	RefreshSecret   string
	TokenIssuer     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OTPTTL          time.Duration
	BcryptCost      int
	LoginRateLimit  int
}

// Load reads configuration values from the environment and populates a Config instance.
// Outside development the database, redis and signing secrets are mandatory.
func Load() (Config, error) {
	cfg := Config{
		AppName:     getEnv("APP_NAME", defaultAppName),
		Env:         strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:        getEnv("PORT", defaultPort),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		TokenIssuer: getEnv("TOKEN_ISSUER", defaultTokenIssuer),

		RefreshSecret:   os.Getenv("REFRESH_SECRET"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		OTPTTL:          defaultOTPTTL,
		BcryptCost:      bcrypt.DefaultCost,
		LoginRateLimit:  defaultLoginRateLimit,
	}

	durations := []struct {
		seconds, duration string
		target            *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL", &cfg.IdempotencyTTL},
		{"ACCESS_TOKEN_TTL_SECONDS", "ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL_SECONDS", "REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL},
		{"OTP_TTL_SECONDS", "OTP_TTL", &cfg.OTPTTL},
	}
	for _, d := range durations {
		if err := durationFromEnv(d.seconds, d.duration, d.target); err != nil {
			return Config{}, err
		}
	}

	if err := intFromEnv("BCRYPT_COST", &cfg.BcryptCost); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return Config{}, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if err := intFromEnv("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.OTPTTL <= 0 {
		return Config{}, fmt.Errorf("OTP_TTL must be positive")
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}
	if cfg.JWTSecret == cfg.RefreshSecret {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must differ")
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(secondsKey, durationKey string, target *time.Duration) error {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		*target = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		*target = d
	}
	return nil
}

func intFromEnv(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = n
	return nil
}
