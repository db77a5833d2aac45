// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	BackendWSURL  string // base URL of the backend's per-room websocket endpoint
	BackendAPIURL string // base URL of the backend's side-channel job queue
	BackendAPIKey string
	PipelineKey   string // key the session pipeline must present; empty disables the check
	AllowedOrigin string
	DBPath        string
	RoomIdleTTL   time.Duration
	Bridge        BridgeConfig
}

// BridgeConfig exposes the bridge tunables that operators adjust per
// deployment. Zero fields keep the bridge defaults.
type BridgeConfig struct {
	QuestionTimeout      time.Duration
	ReportTimeout        time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	MaxBufferSize        int
	MaxBufferAge         time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		BackendWSURL:  getEnv("BACKEND_WS_URL", ""),
		BackendAPIURL: getEnv("BACKEND_API_URL", ""),
		BackendAPIKey: getEnv("BACKEND_API_KEY", ""),
		PipelineKey:   getEnv("PIPELINE_KEY", ""),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),
		DBPath:        getEnv("DB_PATH", "./data/roomlink.db"),
		RoomIdleTTL:   getEnvDuration("ROOM_IDLE_TTL", 2*time.Hour),
		Bridge: BridgeConfig{
			QuestionTimeout:      getEnvDuration("QUESTION_TIMEOUT", 0),
			ReportTimeout:        getEnvDuration("REPORT_TIMEOUT", 0),
			ReconnectDelay:       getEnvDuration("RECONNECT_DELAY", 0),
			MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 0),
			MaxBufferSize:        getEnvInt("MAX_BUFFER_SIZE", 0),
			MaxBufferAge:         getEnvDuration("MAX_BUFFER_AGE", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.BackendWSURL == "" {
		return fmt.Errorf("BACKEND_WS_URL cannot be empty")
	}
	if !strings.HasPrefix(c.BackendWSURL, "ws://") && !strings.HasPrefix(c.BackendWSURL, "wss://") {
		return fmt.Errorf("BACKEND_WS_URL must be a ws:// or wss:// URL")
	}
	if c.BackendAPIURL == "" {
		return fmt.Errorf("BACKEND_API_URL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.AllowedOrigin == "*" ||
		strings.Contains(c.AllowedOrigin, "localhost") ||
		strings.Contains(c.AllowedOrigin, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
