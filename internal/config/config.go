// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/laeproxy/config.toml",
	"configs/config.toml",
}

// MaxRetries is the hard upper bound on upstream.retries.
const MaxRetries = 5

// Platform ceilings used when the config leaves them unset.
const (
	DefaultMaxChunkBytes    = 2000000
	DefaultRequestMaxBytes  = 5 * 1024 * 1024
	DefaultResponseMaxBytes = 32 * 1024 * 1024
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	MaxChunkBytes int64  `kong:"help='Maximum bytes fetched per range request (overrides config).',env='MAX_CHUNK_BYTES'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Range    RangeConfig    `toml:"range"`
	Limits   LimitsConfig   `toml:"limits"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RangeConfig controls how GET requests are split into bounded chunks.
type RangeConfig struct {
	MaxChunkBytes int64 `toml:"max_chunk_bytes"`
}

// LimitsConfig holds the hosting platform's hard body ceilings.
type LimitsConfig struct {
	RequestMaxBytes  int64 `toml:"request_max_bytes"`
	ResponseMaxBytes int64 `toml:"response_max_bytes"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	Retries         int    `toml:"retries"`
	RetryBackoffMS  int    `toml:"retry_backoff_ms"`
	IdleConnections int    `toml:"idle_connections"`
	IdentityHeader  string `toml:"identity_header"`
	MaxFetchBytes   int64  `toml:"max_fetch_bytes"`
	UserAgent       string `toml:"user_agent"`

	retriesSet bool
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/laeproxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// retries = 0 is a meaningful setting, so presence is tracked separately.
	var present struct {
		Upstream map[string]any `toml:"upstream"`
	}
	if err := toml.Unmarshal(data, &present); err == nil {
		_, cfg.Upstream.retriesSet = present.Upstream["retries"]
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	if cfg.Range.MaxChunkBytes > cfg.Limits.ResponseMaxBytes {
		return nil, fmt.Errorf("config: validate: range.max_chunk_bytes (%d) exceeds limits.response_max_bytes (%d)",
			cfg.Range.MaxChunkBytes, cfg.Limits.ResponseMaxBytes)
	}
	// A smaller fetch cap would reject bodies the response ceiling allows.
	if cfg.Upstream.MaxFetchBytes < cfg.Limits.ResponseMaxBytes {
		return nil, fmt.Errorf("config: validate: upstream.max_fetch_bytes (%d) is below limits.response_max_bytes (%d)",
			cfg.Upstream.MaxFetchBytes, cfg.Limits.ResponseMaxBytes)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.MaxChunkBytes != 0 {
		c.Range.MaxChunkBytes = cli.MaxChunkBytes
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Range.MaxChunkBytes < 0 {
		return fmt.Errorf("range.max_chunk_bytes must be non-negative; got %d", c.Range.MaxChunkBytes)
	}
	if c.Limits.RequestMaxBytes < 0 {
		return fmt.Errorf("limits.request_max_bytes must be non-negative; got %d", c.Limits.RequestMaxBytes)
	}
	if c.Limits.ResponseMaxBytes < 0 {
		return fmt.Errorf("limits.response_max_bytes must be non-negative; got %d", c.Limits.ResponseMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.Retries < 0 || c.Upstream.Retries > MaxRetries {
		return fmt.Errorf("upstream.retries must be 0–%d; got %d", MaxRetries, c.Upstream.Retries)
	}
	if c.Upstream.RetryBackoffMS < 0 {
		return fmt.Errorf("upstream.retry_backoff_ms must be non-negative; got %d", c.Upstream.RetryBackoffMS)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxFetchBytes < 0 {
		return fmt.Errorf("upstream.max_fetch_bytes must be non-negative; got %d", c.Upstream.MaxFetchBytes)
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
	case "json", "text", "pretty", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text, pretty; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/http", "/https", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, MaxChunkBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 32 * 1024 * 1024
	}
	if c.Range.MaxChunkBytes == 0 {
		c.Range.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.Limits.RequestMaxBytes == 0 {
		c.Limits.RequestMaxBytes = DefaultRequestMaxBytes
	}
	if c.Limits.ResponseMaxBytes == 0 {
		c.Limits.ResponseMaxBytes = DefaultResponseMaxBytes
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if !c.Upstream.retriesSet && c.Upstream.Retries == 0 {
		c.Upstream.Retries = 2
	}
	if c.Upstream.RetryBackoffMS == 0 {
		c.Upstream.RetryBackoffMS = 200
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.IdentityHeader == "" {
		c.Upstream.IdentityHeader = "Server"
	}
	c.Upstream.IdentityHeader = http.CanonicalHeaderKey(c.Upstream.IdentityHeader)
	if c.Upstream.MaxFetchBytes == 0 {
		c.Upstream.MaxFetchBytes = c.Limits.ResponseMaxBytes
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

// Timeout returns the per-attempt upstream deadline.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the fixed pause between upstream attempts.
func (c *UpstreamConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
