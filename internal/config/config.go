package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server holds settings for cmd/api. Database and logger settings live
// next to their packages (pkg/database, pkg/utilities).
type Server struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	Issuer          string        `env:"JWT_ISSUER" envDefault:"http://localhost:8431"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	MaxFailed       int           `env:"LOGIN_MAX_FAILED" envDefault:"6"`
	LockMinutes     int           `env:"LOGIN_LOCK_MINUTES" envDefault:"15"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"12"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`
	EnsureTables    bool          `env:"ENSURE_TABLES" envDefault:"true"`
}

// Client holds settings for the buds CLI.
type Client struct {
	APIURL          string        `env:"BUDS_API_URL" envDefault:"http://localhost:8431"`
	CredentialsPath string        `env:"BUDS_CREDENTIALS" envDefault:"buds.db"`
	RequestTimeout  time.Duration `env:"BUDS_REQUEST_TIMEOUT" envDefault:"10s"`
	RefreshMargin   time.Duration `env:"BUDS_REFRESH_MARGIN" envDefault:"1m"`
	Push            bool          `env:"BUDS_PUSH" envDefault:"true"`
}

// ServerFromEnv parses Server from the environment.
func ServerFromEnv() (Server, error) {
	var cfg Server
	if err := parseEnv(&cfg); err != nil {
		return Server{}, err
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return Server{}, fmt.Errorf("token ttl must be positive")
	}
	return cfg, nil
}

// ClientFromEnv parses Client from the environment.
func ClientFromEnv() (Client, error) {
	var cfg Client
	if err := parseEnv(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func parseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
