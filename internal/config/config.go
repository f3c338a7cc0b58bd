// Package config loads and validates the directory configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the MCPD_ prefix (e.g., MCPD_CACHE_TTL
// overrides cache.ttl in the YAML).
//
// The GITHUB_TOKEN variable has no MCPD_ prefix because CI runners and secret
// managers commonly inject it under that exact name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Content    ContentConfig    `mapstructure:"content"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ContentConfig selects and configures the repository that stores tool listings.
type ContentConfig struct {
	// Provider is the content backend kind: "github" or "local"
	Provider string             `mapstructure:"provider"`
	GitHub   GitHubContentConfig `mapstructure:"github"`
	Local    LocalContentConfig  `mapstructure:"local"`
	// RequestTimeout bounds every single provider HTTP call
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// FetchConcurrency caps parallel metadata reads during a catalog refresh
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
}

// GitHubContentConfig points at the GitHub repository holding tools/index.json.
type GitHubContentConfig struct {
	APIURL string `mapstructure:"api_url"`
	Owner  string `mapstructure:"owner"`
	Repo   string `mapstructure:"repo"`
	Branch string `mapstructure:"branch"`
	Token  string `mapstructure:"token"`
}

// LocalContentConfig holds local filesystem content configuration
type LocalContentConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// BreakerConfig configures the circuit breaker wrapped around the content provider.
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ConsecutiveFailures trips the breaker open
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
}

// CacheConfig holds catalog cache configuration
type CacheConfig struct {
	TTL      time.Duration  `mapstructure:"ttl"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// SnapshotConfig controls persistence of the last good catalog across restarts.
type SnapshotConfig struct {
	// Backend is one of "none", "bolt" or "redis"
	Backend  string `mapstructure:"backend"`
	BoltPath string `mapstructure:"bolt_path"`
	RedisKey string `mapstructure:"redis_key"`
}

// RedisConfig holds the shared Redis connection used by the snapshot store and
// the distributed rate limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SubmissionConfig holds defaults applied to submitted tools
type SubmissionConfig struct {
	DefaultAuthor string `mapstructure:"default_author"`
}

// WebhookConfig holds the shared secret for content repository push webhooks.
// An empty secret disables the endpoint.
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	IndexReconciler IndexReconcilerConfig `mapstructure:"index_reconciler"`
}

// IndexReconcilerConfig configures the dangling index entry check
type IndexReconcilerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	IntervalHours int  `mapstructure:"interval_hours"`
	// Prune commits an index without the dangling entries
	Prune bool `mapstructure:"prune"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// SubmissionsPerHour limits POST /api/tools per client
	SubmissionsPerHour int `mapstructure:"submissions_per_hour"`
	// Backend is "memory" or "redis"
	Backend string `mapstructure:"backend"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone is not consulted by Unmarshal for nested keys.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Content
		"content.provider",
		"content.github.api_url",
		"content.github.owner",
		"content.github.repo",
		"content.github.branch",
		"content.local.base_path",
		"content.request_timeout",
		"content.fetch_concurrency",
		"content.breaker.enabled",
		"content.breaker.consecutive_failures",
		"content.breaker.open_timeout",

		// Cache
		"cache.ttl",
		"cache.snapshot.backend",
		"cache.snapshot.bolt_path",
		"cache.snapshot.redis_key",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		"submission.default_author",
		"webhook.secret",

		// Jobs
		"jobs.index_reconciler.enabled",
		"jobs.index_reconciler.interval_hours",
		"jobs.index_reconciler.prune",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.submissions_per_hour",
		"security.rate_limiting.backend",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	// Unprefixed secret name, see package doc.
	if err := v.BindEnv("content.github.token", "MCPD_CONTENT_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return fmt.Errorf("failed to bind env var %q: %w", "GITHUB_TOKEN", err)
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mcp-directory")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MCPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Content.GitHub.Token = expandEnv(cfg.Content.GitHub.Token)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Webhook.Secret = expandEnv(cfg.Webhook.Secret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	// Content defaults: the public listings repository
	v.SetDefault("content.provider", "github")
	v.SetDefault("content.github.api_url", "https://api.github.com")
	v.SetDefault("content.github.owner", "xwchris")
	v.SetDefault("content.github.repo", "mcp-tools-data")
	v.SetDefault("content.github.branch", "main")
	v.SetDefault("content.local.base_path", "./data")
	v.SetDefault("content.request_timeout", "30s")
	v.SetDefault("content.fetch_concurrency", 8)
	v.SetDefault("content.breaker.enabled", true)
	v.SetDefault("content.breaker.consecutive_failures", 5)
	v.SetDefault("content.breaker.open_timeout", "30s")

	// Cache defaults
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.snapshot.backend", "none")
	v.SetDefault("cache.snapshot.bolt_path", "./mcp-directory.db")
	v.SetDefault("cache.snapshot.redis_key", "mcp-directory:catalog:snapshot")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("submission.default_author", "Community")

	// Jobs defaults
	v.SetDefault("jobs.index_reconciler.enabled", false)
	v.SetDefault("jobs.index_reconciler.interval_hours", 24)
	v.SetDefault("jobs.index_reconciler.prune", false)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.rate_limiting.submissions_per_hour", 10)
	v.SetDefault("security.rate_limiting.backend", "memory")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "mcp-directory")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Content.Provider {
	case "github":
		if c.Content.GitHub.Owner == "" {
			return fmt.Errorf("content.github.owner is required when using the github provider")
		}
		if c.Content.GitHub.Repo == "" {
			return fmt.Errorf("content.github.repo is required when using the github provider")
		}
		if c.Content.GitHub.Branch == "" {
			return fmt.Errorf("content.github.branch is required when using the github provider")
		}
	case "local":
		if c.Content.Local.BasePath == "" {
			return fmt.Errorf("content.local.base_path is required when using the local provider")
		}
	default:
		return fmt.Errorf("invalid content provider: %s (must be github or local)", c.Content.Provider)
	}
	if c.Content.FetchConcurrency < 1 {
		return fmt.Errorf("content.fetch_concurrency must be positive, got %d", c.Content.FetchConcurrency)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	switch c.Cache.Snapshot.Backend {
	case "none", "":
	case "bolt":
		if c.Cache.Snapshot.BoltPath == "" {
			return fmt.Errorf("cache.snapshot.bolt_path is required when using the bolt snapshot backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when using the redis snapshot backend")
		}
	default:
		return fmt.Errorf("invalid snapshot backend: %s (must be none, bolt, or redis)", c.Cache.Snapshot.Backend)
	}

	if c.Security.RateLimiting.Enabled {
		switch c.Security.RateLimiting.Backend {
		case "memory":
		case "redis":
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis.addr is required when using the redis rate limiting backend")
			}
		default:
			return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
		}
	}

	if c.Jobs.IndexReconciler.Enabled && c.Jobs.IndexReconciler.IntervalHours < 1 {
		return fmt.Errorf("jobs.index_reconciler.interval_hours must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UsesRedis reports whether any configured component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Cache.Snapshot.Backend == "redis" ||
		(c.Security.RateLimiting.Enabled && c.Security.RateLimiting.Backend == "redis")
}
