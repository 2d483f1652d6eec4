package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment. Auth secrets have no defaults; main
// refuses to start without them.
type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"text"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	DefaultTenantID string        `envconfig:"DEFAULT_STORE_ID" default:"main-store"`
	FavoritesTTL    time.Duration `envconfig:"FAVORITES_TTL" default:"20s"`
	AllowBackorder  bool          `envconfig:"ALLOW_BACKORDER" default:"false"`

	ReceiptPrefix        string        `envconfig:"RECEIPT_PREFIX" default:"INV"`
	ReceiptBackend       string        `envconfig:"RECEIPT_BACKEND" default:"store"`
	ReceiptAttempts      int           `envconfig:"RECEIPT_ATTEMPTS" default:"3"`
	ReceiptBackoff       time.Duration `envconfig:"RECEIPT_BACKOFF" default:"50ms"`
	ReceiptClockFallback bool          `envconfig:"RECEIPT_CLOCK_FALLBACK" default:"false"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	LoginRateLimit int           `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.ReceiptBackend = strings.ToLower(strings.TrimSpace(cfg.ReceiptBackend))

	switch cfg.ReceiptBackend {
	case "store", "redis":
	default:
		return Config{}, fmt.Errorf("RECEIPT_BACKEND must be store or redis, got %q", cfg.ReceiptBackend)
	}
	if cfg.ReceiptBackend == "redis" && cfg.RedisAddr == "" {
		return Config{}, fmt.Errorf("RECEIPT_BACKEND=redis requires REDIS_ADDR")
	}
	if cfg.ReceiptAttempts < 1 {
		cfg.ReceiptAttempts = 1
	}
	if cfg.FavoritesTTL <= 0 {
		cfg.FavoritesTTL = 20 * time.Second
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
