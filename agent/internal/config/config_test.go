package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  poll_interval: 30s
  metrics_limit: 200
remote:
  transport: grpc
  endpoint: "localhost:50051"
  auth:
    mode: apikey
    header: x-api-key
    key_env: OPSPULSE_KEY
database:
  url_env: DATABASE_URL
  orders_table: pedidos
logging:
  level: debug
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.PollInterval != 30*time.Second {
		t.Errorf("poll_interval: got %v", cfg.Agent.PollInterval)
	}
	if cfg.Agent.MetricsLimit != 200 {
		t.Errorf("metrics_limit: got %d", cfg.Agent.MetricsLimit)
	}
	if cfg.Remote.Transport != "grpc" || cfg.Remote.Endpoint != "localhost:50051" {
		t.Errorf("remote: got %+v", cfg.Remote)
	}
	if cfg.Remote.Auth.Header != "x-api-key" {
		t.Errorf("auth header: got %q", cfg.Remote.Auth.Header)
	}
	if cfg.Database.OrdersTable != "pedidos" {
		t.Errorf("orders_table: got %q", cfg.Database.OrdersTable)
	}
	if cfg.Database.CreatedColumn != DefaultCreatedColumn {
		t.Errorf("created_column default: got %q", cfg.Database.CreatedColumn)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
remote:
  endpoint: "https://api.example.com"
`)

	if cfg.Agent.PollInterval != DefaultPollInterval {
		t.Errorf("poll_interval: got %v, want %v", cfg.Agent.PollInterval, DefaultPollInterval)
	}
	if cfg.Agent.FetchTimeout != DefaultFetchTimeout {
		t.Errorf("fetch_timeout: got %v, want %v", cfg.Agent.FetchTimeout, DefaultFetchTimeout)
	}
	if cfg.Agent.ProbeTimeout != DefaultProbeTimeout || cfg.Agent.ProbeDeadline != DefaultProbeDeadline {
		t.Errorf("probe timeouts: got %v / %v", cfg.Agent.ProbeTimeout, cfg.Agent.ProbeDeadline)
	}
	if cfg.Remote.Transport != "http" {
		t.Errorf("transport: got %q, want http", cfg.Remote.Transport)
	}
	if cfg.Remote.RetryAttempts != DefaultRetryAttempts {
		t.Errorf("retry_attempts: got %d", cfg.Remote.RetryAttempts)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level: got %q", cfg.Logging.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing endpoint", `
remote:
  transport: http
`},
		{"unknown transport", `
remote:
  endpoint: x
  transport: carrier-pigeon
`},
		{"unknown auth mode", `
remote:
  endpoint: x
  auth:
    mode: magictoken
`},
		{"apikey without header", `
remote:
  endpoint: x
  auth:
    mode: apikey
`},
		{"probe deadline above timeout", `
remote:
  endpoint: x
agent:
  probe_timeout: 2s
  probe_deadline: 3s
`},
		{"zero retries", `
remote:
  endpoint: x
  retry_attempts: 0
`},
		{"bad log level", `
remote:
  endpoint: x
logging:
  level: loud
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_Secrets(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	a := AuthConfig{KeyEnv: "TEST_API_KEY", TokenEnv: "TEST_BEARER_TOKEN"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q", got)
	}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q", got)
	}
	if got := (AuthConfig{}).Password(); got != "" {
		t.Errorf("Password() with no env: got %q, want empty", got)
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://localhost/app")
	d := DatabaseConfig{URLEnv: "TEST_DB_URL"}
	if got := d.URL(); got != "postgres://localhost/app" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestServerConfig_APIKey(t *testing.T) {
	t.Setenv("TEST_AGENT_KEY", "cmdkey")
	cfg := loadFromString(t, `
remote:
  endpoint: https://project.example.com
server:
  api_key_env: TEST_AGENT_KEY
`)
	if got := cfg.Server.APIKey(); got != "cmdkey" {
		t.Errorf("APIKey(): got %q", got)
	}
	if cfg.Server.APIKeyHeader != "X-API-Key" {
		t.Errorf("api_key_header default: got %q", cfg.Server.APIKeyHeader)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(level string) {
		content := "remote:\n  endpoint: x\nlogging:\n  level: " + level + "\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("info")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) { got <- c }) //nolint:errcheck

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	write("debug")

	// A truncate can surface as its own event; wait for the final content.
	timeout := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Logging.Level == "debug" {
				return
			}
		case <-timeout:
			t.Fatal("no reload with level debug observed")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
