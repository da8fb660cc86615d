// Package config loads relay configuration from the environment. A
// .env file in the working directory is honored for development; real
// deployments set the variables directly.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// defaultMaxFrameBytes deliberately allows very large frames; clipboard
// images routinely run to tens of megabytes.
const defaultMaxFrameBytes = 1 << 30

// Config holds all relay configuration.
type Config struct {
	// Server settings
	ServerHost string
	ServerPort int

	// Pairing store backend: "redis" or "memory".
	PairingStore string
	RedisURL     string

	// WebSocket admission settings
	AuthToken         string
	MaxFrameBytes     int64
	StrictEmptyFrames bool

	// Empty means no CORS headers (same-origin only).
	AllowedOrigins string

	// Logging settings
	LogLevel  string
	LogFormat string

	// MetricsPort exposes the internal Prometheus listener; 0 disables it.
	MetricsPort int
}

// Load reads configuration from the environment with defaults applied.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env")
	}

	cfg := &Config{
		ServerHost:        "0.0.0.0",
		ServerPort:        8080,
		PairingStore:      "redis",
		RedisURL:          "redis://127.0.0.1:6379",
		MaxFrameBytes:     defaultMaxFrameBytes,
		StrictEmptyFrames: true,
		LogLevel:          "info",
		LogFormat:         "auto",
		MetricsPort:       9091,
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.ServerHost = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		cfg.ServerPort = p
	}
	if store := os.Getenv("PAIRING_STORE"); store != "" {
		cfg.PairingStore = store
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	if token := os.Getenv("RELAY_WS_AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
		log.Info().Msg("WebSocket auth token configured")
	}
	if raw := os.Getenv("RELAY_MAX_FRAME_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RELAY_MAX_FRAME_BYTES %q: %w", raw, err)
		}
		cfg.MaxFrameBytes = n
	}
	if raw := os.Getenv("RELAY_STRICT_EMPTY_FRAMES"); raw != "" {
		cfg.StrictEmptyFrames = raw == "true" || raw == "1"
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = origins
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if raw := os.Getenv("METRICS_PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid METRICS_PORT %q: %w", raw, err)
		}
		cfg.MetricsPort = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.PairingStore != "redis" && c.PairingStore != "memory" {
		return fmt.Errorf("unknown pairing store %q (expected redis or memory)", c.PairingStore)
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("max frame bytes must be positive, got %d", c.MaxFrameBytes)
	}
	return nil
}

// ListenAddr is the host:port the public server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// MetricsAddr is the bind address of the internal metrics listener, or
// empty when disabled.
func (c *Config) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.ServerHost, c.MetricsPort)
}
