// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cloud-proxy/config.toml",
	"configs/config.toml",
}

const (
	DefaultBaseURL     = "https://apis.roblox.com"
	DefaultRoutePrefix = "/cloud"
	DefaultPort        = 3000
)

// DefaultForwardHeaders is the credential header allow-list used when none is configured.
var DefaultForwardHeaders = []string{"X-Api-Key"}

// reservedPaths are routes owned by the gateway itself.
var reservedPaths = []string{"/", "/healthz", "/proxy/status"}

// hopByHopHeaders may never be allow-listed for forwarding.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config             string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host               string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port               int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream           string `kong:"help='Upstream base URL (overrides config).',env='UPSTREAM_URL'"`
	Prefix             string `kong:"help='Forwarded route prefix (overrides config).',env='ROUTE_PREFIX'"`
	InsecureSkipVerify bool   `kong:"name='insecure-skip-verify',help='Disable upstream TLS certificate validation.',env='UPSTREAM_INSECURE_SKIP_VERIFY'"`
	LogLevel           string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
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

// UpstreamConfig holds upstream connection and forwarding settings.
type UpstreamConfig struct {
	BaseURL     string `toml:"base_url"`
	RoutePrefix string `toml:"route_prefix"`
	// ForwardHeaders lists the inbound headers copied verbatim to the upstream.
	ForwardHeaders     []string `toml:"forward_headers"`
	TimeoutSeconds     int      `toml:"timeout_seconds"`
	IdleConnections    int      `toml:"idle_connections"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
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

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/cloud-proxy/config.toml then configs/config.toml, and falls back to
// built-in defaults when neither exists.
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
	if cli.Upstream != "" {
		c.Upstream.BaseURL = cli.Upstream
	}
	if cli.Prefix != "" {
		c.Upstream.RoutePrefix = cli.Prefix
	}
	if cli.InsecureSkipVerify {
		c.Upstream.InsecureSkipVerify = true
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
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
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("upstream.base_url must not carry a query or fragment; got %q", c.Upstream.BaseURL)
	}

	if err := validatePrefix(c.Upstream.RoutePrefix); err != nil {
		return err
	}

	for _, h := range c.Upstream.ForwardHeaders {
		name := http.CanonicalHeaderKey(strings.TrimSpace(h))
		if name == "" {
			return errors.New("upstream.forward_headers must not contain empty names")
		}
		if name == "Content-Type" {
			return errors.New("upstream.forward_headers must not contain Content-Type; it is always application/json")
		}
		if hopByHopHeaders[name] {
			return fmt.Errorf("upstream.forward_headers must not contain hop-by-hop header %q", name)
		}
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
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPaths {
			if p == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
		prefix := c.Upstream.RoutePrefix
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return fmt.Errorf("metrics.path %q conflicts with route prefix %q", p, prefix)
		}
	}

	return nil
}

func validatePrefix(p string) error {
	switch {
	case p == "" || p[0] != '/':
		return fmt.Errorf("upstream.route_prefix must start with '/'; got %q", p)
	case p == "/":
		return errors.New("upstream.route_prefix must not be the root path")
	case strings.ContainsAny(p, "*?#:"):
		return fmt.Errorf("upstream.route_prefix must be a literal path; got %q", p)
	}
	for _, reserved := range reservedPaths[1:] {
		if p == reserved || strings.HasPrefix(reserved, p+"/") {
			return fmt.Errorf("upstream.route_prefix %q conflicts with reserved route %q", p, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults and normalises
// the upstream URL, route prefix and header names.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	if c.Upstream.RoutePrefix == "" {
		c.Upstream.RoutePrefix = DefaultRoutePrefix
	}
	if len(c.Upstream.RoutePrefix) > 1 {
		c.Upstream.RoutePrefix = strings.TrimRight(c.Upstream.RoutePrefix, "/")
	}
	if c.Upstream.ForwardHeaders == nil {
		c.Upstream.ForwardHeaders = append([]string(nil), DefaultForwardHeaders...)
	}
	for i, h := range c.Upstream.ForwardHeaders {
		c.Upstream.ForwardHeaders[i] = http.CanonicalHeaderKey(strings.TrimSpace(h))
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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

// WarnInsecureTLS logs a warning when upstream certificate validation is disabled.
func (c *Config) WarnInsecureTLS(logger *slog.Logger) {
	if c.Upstream.InsecureSkipVerify {
		logger.Warn("upstream TLS certificate validation is disabled",
			"upstream_url", c.Upstream.BaseURL,
		)
	}
}
