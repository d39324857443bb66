// Package config handles layered configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/webhook-proxy/config.toml",
	"configs/config.toml",
}

// Backend names shared by the dedup, rate limit and queue sections.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQS    = "sqs"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	EnvFile     string `kong:"help='Path to a .env file loaded before reading the environment.',default='.env'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamURL string `kong:"help='Upstream origin webhooks are forwarded to (overrides config).'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Routes    RoutesConfig    `toml:"routes"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Dedup     DedupConfig     `toml:"dedup"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Queue     QueueConfig     `toml:"queue"`
	Redis     RedisConfig     `toml:"redis"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host" env:"SERVER_HOST"`
	Port         int    `toml:"port" env:"SERVER_PORT"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes" env:"SERVER_BODY_MAX_BYTES"`
}

// RoutesConfig holds the path prefixes of the webhook routes.
type RoutesConfig struct {
	WebhookPath     string `toml:"webhook_path" env:"WEBHOOK_PATH"`
	WebhookTestPath string `toml:"webhook_test_path" env:"WEBHOOK_TEST_PATH"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url" env:"PROXY_DOMAIN"`
	TimeoutSeconds  int    `toml:"timeout_seconds" env:"UPSTREAM_TIMEOUT_SECONDS"`
	IdleConnections int    `toml:"idle_connections" env:"UPSTREAM_IDLE_CONNECTIONS"`
}

// DedupConfig controls payload-based duplicate suppression of write requests.
type DedupConfig struct {
	Enabled    bool   `toml:"enabled" env:"DEDUPLICATION_ENABLED"`
	TTLSeconds int    `toml:"ttl_seconds" env:"DEDUPLICATION_TTL"`
	Backend    string `toml:"backend" env:"DEDUPLICATION_BACKEND"`
	KeyPrefix  string `toml:"key_prefix" env:"DEDUPLICATION_KEY_PREFIX"`
}

// RateLimitConfig controls per-client request rate limiting.
type RateLimitConfig struct {
	Enabled        bool   `toml:"enabled" env:"RATELIMITING_ENABLED"`
	Backend        string `toml:"backend" env:"RATELIMITING_BACKEND"`
	Limit          int    `toml:"limit" env:"RATELIMITING_LIMIT"`
	PeriodSeconds  int    `toml:"period_seconds" env:"RATELIMITING_PERIOD_SECONDS"`
	ClientIPHeader string `toml:"client_ip_header" env:"RATELIMITING_CLIENT_IP_HEADER"`
	KeyPrefix      string `toml:"key_prefix" env:"RATELIMITING_KEY_PREFIX"`
}

// QueueConfig controls the durable retry queue and its consumer.
type QueueConfig struct {
	Backend        string    `toml:"backend" env:"ERROR_QUEUE_BACKEND"`
	Name           string    `toml:"name" env:"ERROR_QUEUE_NAME"`
	BatchSize      int       `toml:"batch_size" env:"ERROR_QUEUE_BATCH_SIZE"`
	PollIntervalMS int       `toml:"poll_interval_ms" env:"ERROR_QUEUE_POLL_INTERVAL_MS"`
	MaxRetries     int       `toml:"max_retries" env:"ERROR_QUEUE_MAX_RETRIES"`
	LeaseSeconds   int       `toml:"lease_seconds" env:"ERROR_QUEUE_LEASE_SECONDS"` // redis only
	Consume        *bool     `toml:"consumer_enabled" env:"ERROR_QUEUE_CONSUMER_ENABLED"`
	SQS            SQSConfig `toml:"sqs"`
}

// SQSConfig holds Amazon SQS settings used when queue.backend is "sqs".
type SQSConfig struct {
	QueueURL                 string `toml:"queue_url" env:"ERROR_QUEUE_SQS_URL"`
	Region                   string `toml:"region" env:"AWS_REGION"`
	WaitTimeSeconds          int64  `toml:"wait_time_seconds" env:"ERROR_QUEUE_SQS_WAIT_SECONDS"`
	VisibilityTimeoutSeconds int64  `toml:"visibility_timeout_seconds" env:"ERROR_QUEUE_SQS_VISIBILITY_SECONDS"`
}

// RedisConfig holds the connection settings of the shared Redis instance.
type RedisConfig struct {
	URL                   string `toml:"url" env:"REDIS_URL"`
	RetryAttempts         int    `toml:"retry_attempts" env:"REDIS_RETRY_ATTEMPTS"`
	RetryIntervalMS       int    `toml:"retry_interval_ms" env:"REDIS_RETRY_INTERVAL_MS"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds" env:"REDIS_CONNECT_TIMEOUT_SECONDS"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"METRICS_ENABLED"`
	Path    string `toml:"path" env:"METRICS_PATH"`
}

// Load builds the configuration from, in increasing precedence: the TOML file,
// the process environment (after loading the optional .env file) and CLI flags.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/webhook-proxy/config.toml then configs/config.toml; a missing file is
// not an error because every setting can come from the environment.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if err := loadDotEnv(cli.EnvFile); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", cli.EnvFile, err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// loadDotEnv loads variables from path without overriding ones already set.
// A missing file is ignored.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamURL != "" {
		c.Upstream.BaseURL = cli.UpstreamURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: required, absolute http(s) origin.
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url must include a host; got %q", c.Upstream.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Dedup.TTLSeconds < 0 {
		return fmt.Errorf("dedup.ttl_seconds must be non-negative; got %d", c.Dedup.TTLSeconds)
	}
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must be non-negative; got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.PeriodSeconds < 0 {
		return fmt.Errorf("rate_limit.period_seconds must be non-negative; got %d", c.RateLimit.PeriodSeconds)
	}
	if c.Queue.BatchSize < 0 || c.Queue.PollIntervalMS < 0 || c.Queue.MaxRetries < 0 || c.Queue.LeaseSeconds < 0 {
		return fmt.Errorf("queue.batch_size, queue.poll_interval_ms, queue.max_retries and queue.lease_seconds must be non-negative")
	}

	// Backends.
	if err := validateBackend("dedup.backend", c.Dedup.Backend, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if err := validateBackend("rate_limit.backend", c.RateLimit.Backend, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if err := validateBackend("queue.backend", c.Queue.Backend, BackendMemory, BackendRedis, BackendSQS); err != nil {
		return err
	}
	needsRedis := (c.Dedup.Enabled && c.Dedup.Backend == BackendRedis) ||
		(c.RateLimit.Enabled && c.RateLimit.Backend == BackendRedis) ||
		c.Queue.Backend == BackendRedis
	if needsRedis && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when a redis backend is selected")
	}
	if c.Queue.Backend == BackendSQS && c.Queue.SQS.QueueURL == "" {
		return fmt.Errorf("queue.sqs.queue_url is required when queue.backend is %q", BackendSQS)
	}

	// Routes.
	for name, p := range map[string]string{
		"routes.webhook_path":      c.Routes.WebhookPath,
		"routes.webhook_test_path": c.Routes.WebhookTestPath,
	} {
		if p != "" && (p[0] != '/' || strings.HasSuffix(p, "/")) {
			return fmt.Errorf("%s must start with '/' and must not end with '/'; got %q", name, p)
		}
	}
	if c.Routes.WebhookPath != "" && c.Routes.WebhookPath == c.Routes.WebhookTestPath {
		return fmt.Errorf("routes.webhook_path and routes.webhook_test_path must differ; both are %q", c.Routes.WebhookPath)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := []string{"/healthz", "/proxy/status", c.webhookPath(), c.webhookTestPath()}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

func validateBackend(field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of: %s; got %q", field, strings.Join(allowed, ", "), value)
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	c.Routes.WebhookPath = c.webhookPath()
	c.Routes.WebhookTestPath = c.webhookTestPath()
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}

	if c.Dedup.TTLSeconds == 0 {
		c.Dedup.TTLSeconds = 60
	}
	if c.Dedup.Backend == "" {
		c.Dedup.Backend = c.defaultBackend()
	}
	if c.Dedup.KeyPrefix == "" {
		c.Dedup.KeyPrefix = "dedup:"
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = c.defaultBackend()
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 100
	}
	if c.RateLimit.PeriodSeconds == 0 {
		c.RateLimit.PeriodSeconds = 60
	}
	if c.RateLimit.ClientIPHeader == "" {
		c.RateLimit.ClientIPHeader = "CF-Connecting-IP"
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = "ratelimit:"
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = c.defaultBackend()
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "webhook-proxy:errors"
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.PollIntervalMS == 0 {
		c.Queue.PollIntervalMS = 1000
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.LeaseSeconds == 0 {
		c.Queue.LeaseSeconds = 900
	}
	if c.Queue.SQS.WaitTimeSeconds == 0 {
		c.Queue.SQS.WaitTimeSeconds = 10
	}
	if c.Queue.SQS.VisibilityTimeoutSeconds == 0 {
		c.Queue.SQS.VisibilityTimeoutSeconds = 30
	}

	if c.Redis.RetryAttempts == 0 {
		c.Redis.RetryAttempts = 3
	}
	if c.Redis.RetryIntervalMS == 0 {
		c.Redis.RetryIntervalMS = 500
	}
	if c.Redis.ConnectTimeoutSeconds == 0 {
		c.Redis.ConnectTimeoutSeconds = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// defaultBackend picks redis when a Redis URL is configured, memory otherwise.
func (c *Config) defaultBackend() string {
	if c.Redis.URL != "" {
		return BackendRedis
	}
	return BackendMemory
}

func (c *Config) webhookPath() string {
	if c.Routes.WebhookPath == "" {
		return "/webhook"
	}
	return c.Routes.WebhookPath
}

func (c *Config) webhookTestPath() string {
	if c.Routes.WebhookTestPath == "" {
		return "/webhook-test"
	}
	return c.Routes.WebhookTestPath
}

// ConsumerEnabled reports whether the retry consumer should run in this process.
func (q *QueueConfig) ConsumerEnabled() bool {
	return q.Consume == nil || *q.Consume
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
