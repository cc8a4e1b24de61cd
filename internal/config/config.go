package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ChainSimulator = "simulator"
	ChainRPC       = "rpc"
)

type Config struct {
	Env  string
	Port string

	StoreDriver string
	DatabaseURL string

	RedisURL  string
	RedisPass string
	RedisDB   int

	ChainMode             string
	ChainRPCURL           string
	ChainRPCTimeout       time.Duration
	SettleConfirmAttempts int

	GameTokenSecret string
	GameTokenTTL    time.Duration

	StaleAfter         time.Duration
	RateLimitPerMinute int
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("ENV", EnvLocal),
		Port:        getEnv("PORT", "8080"),
		StoreDriver: getEnv("STORE_DRIVER", StoreMemory),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		RedisPass:   getEnv("REDIS_PASSWORD", ""),
		ChainMode:   getEnv("CHAIN_MODE", ChainSimulator),
		ChainRPCURL: getEnv("CHAIN_RPC_URL", ""),

		GameTokenSecret: getEnv("GAME_TOKEN_SECRET", ""),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SettleConfirmAttempts, err = getInt("SETTLE_CONFIRM_ATTEMPTS", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getInt("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.ChainRPCTimeout, err = getDuration("CHAIN_RPC_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.GameTokenTTL, err = getDuration("GAME_TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getDuration("STALE_AFTER", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("config: ENV must be one of local, dev, prod, got %q", c.Env)
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required with STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.ChainMode {
	case ChainSimulator:
	case ChainRPC:
		if c.ChainRPCURL == "" {
			return errors.New("config: CHAIN_RPC_URL is required with CHAIN_MODE=rpc")
		}
	default:
		return fmt.Errorf("config: unknown CHAIN_MODE %q", c.ChainMode)
	}

	if c.SettleConfirmAttempts < 1 {
		return errors.New("config: SETTLE_CONFIRM_ATTEMPTS must be at least 1")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("config: RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.StaleAfter <= 0 {
		return errors.New("config: STALE_AFTER must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
