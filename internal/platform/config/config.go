package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Comma-separated; entries may use a leading "*." host wildcard.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	DatabaseURL     string `env:"DATABASE_URL"`
	RedisURL        string `env:"REDIS_URL"`
	AuthJWTSecret   string `env:"AUTH_JWT_SECRET"`
	AuthJWTAudience string `env:"AUTH_JWT_AUDIENCE"`
	AdminToken      string `env:"ADMIN_TOKEN"`
	InstanceID      string `env:"INSTANCE_ID"`

	PricePollInterval time.Duration `env:"PRICE_POLL_INTERVAL" default:"5s"`
	NewsPollInterval  time.Duration `env:"NEWS_POLL_INTERVAL" default:"30s"`
	NewsLookback      time.Duration `env:"NEWS_LOOKBACK" default:"5m"`
	NewsBatchLimit    int           `env:"NEWS_BATCH_LIMIT" default:"50"`
	SeenNewsCapacity  int           `env:"SEEN_NEWS_CAPACITY" default:"1000"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"20"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"40"`

	RequestLogQueueSize int           `env:"REQUEST_LOG_QUEUE_SIZE" default:"1000"`
	RequestLogRetention time.Duration `env:"REQUEST_LOG_RETENTION" default:"720h"` // 30 days
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Origins returns the extra WebSocket origins from ALLOWED_ORIGINS.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"AUTH_JWT_SECRET", cfg.AuthJWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.AuthJWTSecret) < 32 {
		return errors.New("AUTH_JWT_SECRET must be at least 32 characters")
	}

	if cfg.IsProduction() {
		if err := checkSSLMode(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"PRICE_POLL_INTERVAL", cfg.PricePollInterval},
		{"NEWS_POLL_INTERVAL", cfg.NewsPollInterval},
		{"NEWS_LOOKBACK", cfg.NewsLookback},
		{"REQUEST_LOG_RETENTION", cfg.RequestLogRetention},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	counts := []struct {
		name  string
		value int
	}{
		{"NEWS_BATCH_LIMIT", cfg.NewsBatchLimit},
		{"SEEN_NEWS_CAPACITY", cfg.SeenNewsCapacity},
		{"MAX_WEBSOCKET_CONNECTIONS", cfg.MaxWebSocketConnections},
		{"MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP},
		{"CONNECTION_BURST", cfg.ConnectionBurst},
		{"REQUEST_LOG_QUEUE_SIZE", cfg.RequestLogQueueSize},
	}
	for _, c := range counts {
		if c.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", c.name, c.value)
		}
	}

	if cfg.ConnectionRate <= 0 {
		return fmt.Errorf("CONNECTION_RATE must be positive, got %g", cfg.ConnectionRate)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return nil
}

// checkSSLMode rejects database URLs that allow unencrypted connections.
func checkSSLMode(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
