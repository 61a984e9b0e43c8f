// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/opensearch-proxy/config.toml",
	"configs/config.toml",
}

// monitorRoutes are the paths served on the monitoring port; the metrics
// path must not shadow them.
var monitorRoutes = []string{
	"/search_queries_success_count",
	"/search_queries_failure_count",
	"/search_queries_failures",
	"/nonsearch_passed_through_count",
	"/healthz",
	"/favicon.ico",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Proxy listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Proxy listen port (overrides config).',env='PORT'"`
	MonitorPort int    `kong:"help='Monitoring listen port (overrides config).',env='MONITOR_PORT'"`
	Upstream    string `kong:"help='Upstream backend address as host:port (overrides config).',env='UPSTREAM_ADDR'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Upstream UpstreamConfig `toml:"upstream"`
	Stats    StatsConfig    `toml:"stats"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ServerConfig holds the inbound proxy server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// MonitorConfig holds the monitoring server settings.
type MonitorConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	IndexFile   string `toml:"index_file"`
	FaviconFile string `toml:"favicon_file"`
}

// UpstreamConfig holds the search backend connection settings.
type UpstreamConfig struct {
	Addr           string `toml:"addr"` // host:port, plain HTTP
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// StatsConfig controls the stats collector.
type StatsConfig struct {
	// FailureLogMax bounds the retained failure log; oldest entries are
	// dropped past the cap. -1 disables the bound (the failure counter is
	// never trimmed either way).
	FailureLogMax int `toml:"failure_log_max"`
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

// Load reads the TOML config file and applies CLI overrides. When no
// explicit path is given (via --config or CONFIG_PATH) the search paths
// are tried in order; if none exists the built-in defaults are used, so
// the proxy runs without any config file at all.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfigInPaths(configSearchPaths)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
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
	if cli.MonitorPort != 0 {
		c.Monitor.Port = cli.MonitorPort
	}
	if cli.Upstream != "" {
		c.Upstream.Addr = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.Upstream.Addr); err != nil {
		return fmt.Errorf("upstream.addr must be host:port; got %q", c.Upstream.Addr)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return fmt.Errorf("monitor.port must be 0–65535; got %d", c.Monitor.Port)
	}
	if c.Server.Port == c.Monitor.Port {
		return fmt.Errorf("server.port and monitor.port must differ; both are %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Stats.FailureLogMax < -1 {
		return fmt.Errorf("stats.failure_log_max must be >= -1; got %d", c.Stats.FailureLogMax)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p == "" || p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range monitorRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Monitor.Host == "" {
		c.Monitor.Host = "0.0.0.0"
	}
	if c.Monitor.Port == 0 {
		c.Monitor.Port = 3001
	}
	if c.Monitor.IndexFile == "" {
		c.Monitor.IndexFile = "web/index.html"
	}
	if c.Monitor.FaviconFile == "" {
		c.Monitor.FaviconFile = "web/favicon.ico"
	}
	if c.Upstream.Addr == "" {
		c.Upstream.Addr = "127.0.0.1:9200"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Stats.FailureLogMax == 0 {
		c.Stats.FailureLogMax = 1000
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

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the proxy listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the monitoring listen address as host:port.
func (c *MonitorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
