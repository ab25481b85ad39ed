package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"APP_ENV", "LOG_LEVEL", "LOG_FILE", "METRICS_ADDR",
	"WALLETSCAN_API_URL", "WALLETSCAN_PUSH_URL", "WALLETSCAN_API_TOKEN", "WALLETSCAN_PRIVATE_KEY",
	"WALLETSCAN_POLL_INTERVAL", "WALLETSCAN_HEARTBEAT_THRESHOLD", "WALLETSCAN_REQUEST_TIMEOUT",
	"WALLETSCAN_PAGE_SIZE", "WALLETSCAN_STATE_FILE", "WALLETSCAN_STATE_MAX_AGE",
	"REDIS_ENABLED", "REDIS_ADDR", "REDIS_USERNAME", "REDIS_PASSWORD", "REDIS_DB",
	"REDIS_KEY_PREFIX", "REDIS_TLS", "REDIS_TTL",
}

// clearEnv blanks every variable so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.URL != DefaultAPIURL {
		t.Errorf("API.URL = %q", cfg.API.URL)
	}
	if cfg.Sync.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.Sync.PollInterval)
	}
	if cfg.Sync.HeartbeatThreshold != 120*time.Second {
		t.Errorf("HeartbeatThreshold = %v", cfg.Sync.HeartbeatThreshold)
	}
	if cfg.Sync.PageSize != 20 {
		t.Errorf("PageSize = %d", cfg.Sync.PageSize)
	}
	if cfg.State.File != DefaultStateFile {
		t.Errorf("State.File = %q", cfg.State.File)
	}
	if cfg.Redis.Enabled || cfg.Redis.Address != "localhost:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.IsDevelopment() {
		t.Error("default environment should be production")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("WALLETSCAN_API_URL", "https://scan.example.com/")
	t.Setenv("WALLETSCAN_PUSH_URL", "wss://scan.example.com")
	t.Setenv("WALLETSCAN_POLL_INTERVAL", "2s")
	t.Setenv("WALLETSCAN_HEARTBEAT_THRESHOLD", "90")
	t.Setenv("WALLETSCAN_PAGE_SIZE", "50")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TTL", "24h")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.URL != "https://scan.example.com" {
		t.Errorf("API.URL = %q, want trailing slash trimmed", cfg.API.URL)
	}
	if cfg.Sync.PollInterval != 2*time.Second || cfg.Sync.HeartbeatThreshold != 90*time.Second {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.PageSize != 50 {
		t.Errorf("PageSize = %d", cfg.Sync.PageSize)
	}
	if !cfg.Redis.Enabled || cfg.Redis.DB != 3 || cfg.Redis.TTL != 24*time.Hour {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode")
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		errMsg string
	}{
		{"api url scheme", "WALLETSCAN_API_URL", "ftp://host", "WALLETSCAN_API_URL"},
		{"push url scheme", "WALLETSCAN_PUSH_URL", "https://host", "WALLETSCAN_PUSH_URL"},
		{"poll interval syntax", "WALLETSCAN_POLL_INTERVAL", "often", "duration"},
		{"poll interval too fast", "WALLETSCAN_POLL_INTERVAL", "10ms", "at least 100ms"},
		{"page size zero", "WALLETSCAN_PAGE_SIZE", "0", "between 1 and 200"},
		{"page size text", "WALLETSCAN_PAGE_SIZE", "many", "integer"},
		{"redis flag", "REDIS_ENABLED", "maybe", "boolean"},
		{"redis db", "REDIS_DB", "-1", "REDIS_DB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not mention %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("WALLETSCAN_API_TOKEN")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WALLETSCAN_API_TOKEN=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("WALLETSCAN_API_TOKEN") })

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Token != "from-dotenv" {
		t.Errorf("API.Token = %q, want from-dotenv", cfg.API.Token)
	}
}
