package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Deployment modes. Hosted runs against PostgreSQL with secrets from the
// environment; self-hosted runs against SQLite with secrets from the
// configured secret store.
const (
	ModeHosted     = "hosted"
	ModeSelfHosted = "self-hosted"
)

// RateLimitDisabled is the sentinel accepted for calls_per_second_limit.
const RateLimitDisabled = "disabled"

const maxTokenTTLHours = 8

type Config struct {
	Mode                string   `mapstructure:"mode"`
	Host                string   `mapstructure:"host"`
	Port                int      `mapstructure:"port"`
	SecretKey           string   `mapstructure:"secret_key"`            // signs tokens and integrity hashes
	CallsPerSecondLimit string   `mapstructure:"calls_per_second_limit"` // integer or "disabled"
	RateLimitWindowSec  int      `mapstructure:"rate_limit_window_seconds"`
	MinCLIVersion       string   `mapstructure:"min_cli_version"` // empty = version gate off
	EnablePrivateMode   bool     `mapstructure:"enable_private_mode"`
	ServerLogLevel      string   `mapstructure:"server_log_level"`
	CLILogLevel         string   `mapstructure:"cli_log_level"`
	LogPath             string   `mapstructure:"log_path"`
	DatabasePath        string   `mapstructure:"database_path"` // self-hosted SQLite file
	DatabaseURI         string   `mapstructure:"database_uri"`  // hosted PostgreSQL DSN
	VaultAddr           string   `mapstructure:"vault_addr"`
	VaultToken          string   `mapstructure:"vault_token"`
	VaultSecretPath     string   `mapstructure:"vault_secret_path"`
	ModulesPath         string   `mapstructure:"modules_path"`
	BackendBaseURL      string   `mapstructure:"backend_base_url"` // default for trees without base_url
	BackendTimeoutSec   int      `mapstructure:"backend_timeout_sec"`
	TokenTTLHours       int      `mapstructure:"token_ttl_hours"` // capped at 8
	ShutdownTimeoutSec  int      `mapstructure:"shutdown_timeout_sec"`
	RequestTimeoutSec   int      `mapstructure:"request_timeout_sec"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
	TraceEndpoint       string   `mapstructure:"trace_endpoint"` // OTLP/HTTP collector; empty = tracing off
	TraceSampling       float64  `mapstructure:"trace_sampling"`
	CleanupIntervalMin  int      `mapstructure:"cleanup_interval_min"`
	LoginRatePerMin     int      `mapstructure:"login_rate_per_min"` // per-IP login attempts
	LoginRateBurst      int      `mapstructure:"login_rate_burst"`
}

func Load() (*Config, error) {
	viper.SetConfigName("modular-api")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/modular-api/")
	viper.AddConfigPath("$HOME/.modular-api")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("mode", ModeSelfHosted)
	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8085)
	viper.SetDefault("secret_key", "")
	viper.SetDefault("calls_per_second_limit", "10")
	viper.SetDefault("rate_limit_window_seconds", 1)
	viper.SetDefault("min_cli_version", "")
	viper.SetDefault("enable_private_mode", false)
	viper.SetDefault("server_log_level", "info")
	viper.SetDefault("cli_log_level", "warn")
	viper.SetDefault("log_path", "")
	viper.SetDefault("database_path", "./modular-api.db")
	viper.SetDefault("database_uri", "")
	viper.SetDefault("vault_addr", "")
	viper.SetDefault("vault_token", "")
	viper.SetDefault("vault_secret_path", "secret/data/modular-api")
	viper.SetDefault("modules_path", "./modules")
	viper.SetDefault("backend_base_url", "")
	viper.SetDefault("backend_timeout_sec", 60)
	viper.SetDefault("token_ttl_hours", maxTokenTTLHours)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("trace_endpoint", "")
	viper.SetDefault("trace_sampling", 1.0)
	viper.SetDefault("cleanup_interval_min", 60)
	viper.SetDefault("login_rate_per_min", 5)
	viper.SetDefault("login_rate_burst", 5)

	// Environment variables: MODULAR_API_SECRET_KEY, MODULAR_API_MODE, ...
	viper.SetEnvPrefix("MODULAR_API")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field requirements after secrets are resolved.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeHosted:
		if c.DatabaseURI == "" {
			return fmt.Errorf("database_uri is required in %s mode", ModeHosted)
		}
	case ModeSelfHosted:
		if c.DatabasePath == "" {
			return fmt.Errorf("database_path is required in %s mode", ModeSelfHosted)
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeHosted, ModeSelfHosted, c.Mode)
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key is required (MODULAR_API_SECRET_KEY or the secret store)")
	}
	if _, _, err := c.RateLimit(); err != nil {
		return err
	}
	if c.TokenTTLHours < 1 || c.TokenTTLHours > maxTokenTTLHours {
		return fmt.Errorf("token_ttl_hours must be between 1 and %d, got %d", maxTokenTTLHours, c.TokenTTLHours)
	}
	return nil
}

// RateLimit parses calls_per_second_limit. disabled=true means no limiting.
func (c *Config) RateLimit() (ceiling int64, disabled bool, err error) {
	v := strings.TrimSpace(strings.ToLower(c.CallsPerSecondLimit))
	if v == "" || v == RateLimitDisabled {
		return 0, true, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return 0, false, fmt.Errorf("calls_per_second_limit must be a positive integer or %q, got %q",
			RateLimitDisabled, c.CallsPerSecondLimit)
	}
	return n, false, nil
}

// RateLimitWindow returns the fixed-window length (minimum one second).
func (c *Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSec < 1 {
		return time.Second
	}
	return time.Duration(c.RateLimitWindowSec) * time.Second
}

// TokenTTL returns the bearer token lifetime.
func (c *Config) TokenTTL() time.Duration {
	h := c.TokenTTLHours
	if h < 1 || h > maxTokenTTLHours {
		h = maxTokenTTLHours
	}
	return time.Duration(h) * time.Hour
}

// BackendTimeout returns the per-call backend timeout.
func (c *Config) BackendTimeout() time.Duration {
	if c.BackendTimeoutSec < 1 {
		return 60 * time.Second
	}
	return time.Duration(c.BackendTimeoutSec) * time.Second
}

// RequestTimeout returns the server-side read budget for one request.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSec < 1 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// ShutdownTimeout returns how long shutdown waits for in-flight requests.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSec < 1 {
		return 15 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// CleanupInterval returns the period of the expiry janitor.
func (c *Config) CleanupInterval() time.Duration {
	if c.CleanupIntervalMin < 1 {
		return time.Hour
	}
	return time.Duration(c.CleanupIntervalMin) * time.Minute
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
