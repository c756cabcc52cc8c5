package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPollInterval   = 60 * time.Second
	DefaultFetchTimeout   = 12 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
	DefaultProbeDeadline  = 4 * time.Second
	DefaultMetricsWindow  = time.Hour
	DefaultMetricsLimit   = 500
	DefaultStatusWindow   = 60 * time.Minute
	DefaultRetryAttempts  = 3
	DefaultBreakerFails   = 5
	DefaultBreakerTimeout = 30 * time.Second
	DefaultHTTPPort       = 8080
	DefaultFlagTTL        = 12 * time.Hour
	DefaultOrdersTable    = "orders"
	DefaultCreatedColumn  = "created_at"
)

// Config is the top-level agent configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Remote   RemoteConfig   `yaml:"remote"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AgentConfig holds the polling engine settings.
type AgentConfig struct {
	// PollInterval is the background refresh period while the dashboard is visible.
	PollInterval time.Duration `yaml:"poll_interval"`

	// FetchTimeout bounds every bulk fetch (metrics, status summary, order count).
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// ProbeTimeout bounds the connectivity probe handle; ProbeDeadline bounds
	// the probe request itself and should be shorter.
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeDeadline time.Duration `yaml:"probe_deadline"`

	// MetricsWindow and MetricsLimit are passed to get_metrics_summary.
	MetricsWindow time.Duration `yaml:"metrics_window"`
	MetricsLimit  int           `yaml:"metrics_limit"`

	// StatusWindow is passed to get_system_status_summary.
	StatusWindow time.Duration `yaml:"status_window"`

	// AlwaysVisible keeps background polling on even with no stream subscribers.
	AlwaysVisible bool `yaml:"always_visible"`
}

// RemoteConfig describes how to reach the remote aggregation service.
type RemoteConfig struct {
	// Transport is one of: http | grpc.
	Transport string `yaml:"transport"`

	// Endpoint is the base URL (http) or host:port (grpc).
	Endpoint string `yaml:"endpoint"`

	// HealthPath is appended to Endpoint for the http connectivity probe.
	HealthPath string `yaml:"health_path"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`

	// RetryAttempts applies to idempotent reads only. 1 disables retries.
	RetryAttempts int `yaml:"retry_attempts"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the remote service.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int `yaml:"max_failures"`
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// AuthConfig specifies the authentication mode for the remote service.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields — used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the API key when Mode == "apikey".
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// DatabaseConfig enables counting today's orders straight from PostgreSQL.
// When URLEnv is empty the count comes from the remote service instead.
type DatabaseConfig struct {
	URLEnv        string `yaml:"url_env"`
	OrdersTable   string `yaml:"orders_table"`
	CreatedColumn string `yaml:"created_column"`
}

// URL returns the database URL resolved from the environment.
func (d DatabaseConfig) URL() string { return env(d.URLEnv) }

// SessionConfig controls where session-scoped flags live.
// Without RedisAddr they are kept in memory for the life of the process.
type SessionConfig struct {
	// ID names the session in shared flag storage. Empty means a fresh
	// random id per process, so flags do not outlive a restart.
	ID string `yaml:"id"`

	RedisAddr        string        `yaml:"redis_addr"`
	RedisPasswordEnv string        `yaml:"redis_password_env"`
	RedisDB          int           `yaml:"redis_db"`
	FlagTTL          time.Duration `yaml:"flag_ttl"`
}

// RedisPassword returns the redis password resolved from the environment.
func (s SessionConfig) RedisPassword() string { return env(s.RedisPasswordEnv) }

// ServerConfig holds the consumer-facing HTTP settings.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	// Commands (POST endpoints) require APIKeyHeader to carry the key named
	// by APIKeyEnv. Reads stay open. Empty APIKeyEnv disables the check.
	APIKeyHeader string `yaml:"api_key_header"`
	APIKeyEnv    string `yaml:"api_key_env"`
}

// APIKey returns the command API key resolved from the environment.
func (s ServerConfig) APIKey() string { return env(s.APIKeyEnv) }

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			PollInterval:  DefaultPollInterval,
			FetchTimeout:  DefaultFetchTimeout,
			ProbeTimeout:  DefaultProbeTimeout,
			ProbeDeadline: DefaultProbeDeadline,
			MetricsWindow: DefaultMetricsWindow,
			MetricsLimit:  DefaultMetricsLimit,
			StatusWindow:  DefaultStatusWindow,
		},
		Remote: RemoteConfig{
			Transport:     "http",
			HealthPath:    "/health",
			RetryAttempts: DefaultRetryAttempts,
			Breaker: BreakerConfig{
				MaxFailures: DefaultBreakerFails,
				OpenTimeout: DefaultBreakerTimeout,
			},
		},
		Database: DatabaseConfig{
			OrdersTable:   DefaultOrdersTable,
			CreatedColumn: DefaultCreatedColumn,
		},
		Session: SessionConfig{FlagTTL: DefaultFlagTTL},
		Server:  ServerConfig{HTTPPort: DefaultHTTPPort, APIKeyHeader: "X-API-Key"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Remote.Endpoint == "" {
		return fmt.Errorf("remote.endpoint is required")
	}
	switch cfg.Remote.Transport {
	case "http", "grpc":
	default:
		return fmt.Errorf("remote.transport: unknown transport %q", cfg.Remote.Transport)
	}
	switch cfg.Remote.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("remote.auth: unknown auth mode %q", cfg.Remote.Auth.Mode)
	}
	if cfg.Remote.Auth.Mode == "apikey" && cfg.Remote.Auth.Header == "" {
		return fmt.Errorf("remote.auth.header is required for apikey mode")
	}
	if cfg.Remote.RetryAttempts < 1 {
		return fmt.Errorf("remote.retry_attempts must be at least 1")
	}
	if cfg.Agent.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be positive")
	}
	if cfg.Agent.FetchTimeout <= 0 || cfg.Agent.ProbeTimeout <= 0 || cfg.Agent.ProbeDeadline <= 0 {
		return fmt.Errorf("agent timeouts must be positive")
	}
	if cfg.Agent.ProbeDeadline > cfg.Agent.ProbeTimeout {
		return fmt.Errorf("agent.probe_deadline must not exceed agent.probe_timeout")
	}
	if cfg.Agent.MetricsLimit <= 0 {
		return fmt.Errorf("agent.metrics_limit must be positive")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	return nil
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
