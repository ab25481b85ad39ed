// Package config reads walletscan settings from the environment, with an
// optional .env file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL             = "http://localhost:8080"
	DefaultPollInterval       = 5 * time.Second
	DefaultHeartbeatThreshold = 120 * time.Second
	DefaultRequestTimeout     = 30 * time.Second
	DefaultPageSize           = 20
	DefaultStateFile          = ".walletscan-state.json"
	DefaultStateMaxAge        = 30 * 24 * time.Hour
)

type Config struct {
	App struct {
		Environment string
		LogLevel    string
		LogFile     string
		MetricsAddr string // Empty disables the metrics server
	}

	API struct {
		URL        string
		PushURL    string // Empty disables the push channel
		Token      string
		PrivateKey string
	}

	Sync struct {
		PollInterval       time.Duration
		HeartbeatThreshold time.Duration
		RequestTimeout     time.Duration
		PageSize           int
	}

	State struct {
		File   string // "off" disables local checkpoints
		MaxAge time.Duration
	}

	Redis struct {
		Enabled   bool
		Address   string
		Username  string
		Password  string
		DB        int
		KeyPrefix string
		UseTLS    bool
		TTL       time.Duration
	}
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{}

	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.LogFile = os.Getenv("LOG_FILE")
	cfg.App.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.API.URL = strings.TrimRight(getEnvOrDefault("WALLETSCAN_API_URL", DefaultAPIURL), "/")
	cfg.API.PushURL = os.Getenv("WALLETSCAN_PUSH_URL")
	cfg.API.Token = os.Getenv("WALLETSCAN_API_TOKEN")
	cfg.API.PrivateKey = os.Getenv("WALLETSCAN_PRIVATE_KEY")

	var err error
	if cfg.Sync.PollInterval, err = getEnvAsDurationOrDefault("WALLETSCAN_POLL_INTERVAL", DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.Sync.HeartbeatThreshold, err = getEnvAsDurationOrDefault("WALLETSCAN_HEARTBEAT_THRESHOLD", DefaultHeartbeatThreshold); err != nil {
		return nil, err
	}
	if cfg.Sync.RequestTimeout, err = getEnvAsDurationOrDefault("WALLETSCAN_REQUEST_TIMEOUT", DefaultRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.Sync.PageSize, err = getEnvAsIntOrDefault("WALLETSCAN_PAGE_SIZE", DefaultPageSize); err != nil {
		return nil, err
	}

	cfg.State.File = getEnvOrDefault("WALLETSCAN_STATE_FILE", DefaultStateFile)
	if cfg.State.MaxAge, err = getEnvAsDurationOrDefault("WALLETSCAN_STATE_MAX_AGE", DefaultStateMaxAge); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled, err = getEnvAsBoolOrDefault("REDIS_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Username = os.Getenv("REDIS_USERNAME")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = getEnvAsIntOrDefault("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.Redis.KeyPrefix = getEnvOrDefault("REDIS_KEY_PREFIX", "walletscan:")
	if cfg.Redis.UseTLS, err = getEnvAsBoolOrDefault("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.Redis.TTL, err = getEnvAsDurationOrDefault("REDIS_TTL", 0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and URL schemes.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("WALLETSCAN_API_URL must be an http(s) URL, got %q", c.API.URL)
	}
	if c.API.PushURL != "" {
		u, err := url.Parse(c.API.PushURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("WALLETSCAN_PUSH_URL must be a ws(s) URL, got %q", c.API.PushURL)
		}
	}
	if c.Sync.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("WALLETSCAN_POLL_INTERVAL must be at least 100ms")
	}
	if c.Sync.HeartbeatThreshold <= 0 {
		return fmt.Errorf("WALLETSCAN_HEARTBEAT_THRESHOLD must be positive")
	}
	if c.Sync.RequestTimeout <= 0 {
		return fmt.Errorf("WALLETSCAN_REQUEST_TIMEOUT must be positive")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 200 {
		return fmt.Errorf("WALLETSCAN_PAGE_SIZE must be between 1 and 200")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative")
	}
	return nil
}

// IsDevelopment reports whether APP_ENV selects development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return intVal, nil
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

// Durations accept Go syntax ("90s") or a bare number of seconds.
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
