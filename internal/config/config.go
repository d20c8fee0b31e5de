package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type AppConfig struct {
	ListenAddr string

	StoreBackend string
	RedisURL     string
	DatabaseURL  string
	GameTTL      time.Duration

	DefaultTimeLimit time.Duration
	RateTimeoutWins  bool

	MessagesDir string

	// Per-caller request rate; zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	NotifyURL   string
	NotifyWSURL string
	NotifyRoom  string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		ListenAddr:       ":8080",
		StoreBackend:     BackendRedis,
		GameTTL:          720 * time.Hour,
		DefaultTimeLimit: 24 * time.Hour,
		RateLimitBurst:   20,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))); v != "" {
		cfg.StoreBackend = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("GAME_TTL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GameTTL = time.Duration(n) * time.Hour
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_TIME_LIMIT_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultTimeLimit = time.Duration(n) * 24 * time.Hour
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_TIMEOUT_WINS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RateTimeoutWins = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimitRPS = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.NotifyURL = strings.TrimRight(strings.TrimSpace(os.Getenv("NOTIFY_URL")), "/")
	cfg.NotifyWSURL = strings.TrimSpace(os.Getenv("NOTIFY_WS_URL"))
	cfg.NotifyRoom = strings.TrimSpace(os.Getenv("NOTIFY_ROOM"))

	switch cfg.StoreBackend {
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.NotifyEnabled() && cfg.NotifyRoom == "" {
		return nil, errors.New("NOTIFY_ROOM is required when NOTIFY_URL or NOTIFY_WS_URL is set")
	}

	return cfg, nil
}

// NotifyEnabled reports whether any chat bridge transport is configured.
func (c *AppConfig) NotifyEnabled() bool {
	return c.NotifyURL != "" || c.NotifyWSURL != ""
}
