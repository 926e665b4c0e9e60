package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig         `toml:"server"`
	Upstream  UpstreamConfig       `toml:"upstream"`
	Catalog   CatalogConfig        `toml:"catalog"`
	Telemetry TelemetryConfig      `toml:"telemetry"`
	Logging   common.LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int    `toml:"port"`
	Host         string `toml:"host"`
	Name         string `toml:"name"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// UpstreamConfig describes the single REST service the gateway fronts.
type UpstreamConfig struct {
	BaseURL    string `toml:"base_url"`
	Token      string `toml:"token"`
	AuthHeader string `toml:"auth_header"` // header carrying the credential (default Authorization)
	AuthScheme string `toml:"auth_scheme"` // prefix for the token, e.g. "Bearer"; empty sends the raw token

	// Per-call override headers read from inbound requests.
	OverrideHeader       string `toml:"override_header"`
	BaseURLHeader        string `toml:"base_url_header"`
	AllowBaseURLOverride bool   `toml:"allow_base_url_override"`

	Timeout          string `toml:"timeout"`
	MaxRetries       int    `toml:"max_retries"`
	TransportBackoff string `toml:"transport_backoff"`
	StatusBackoff    string `toml:"status_backoff"`
	MaxRetryAfter    string `toml:"max_retry_after"`
	MaxResponseBytes int64  `toml:"max_response_bytes"`

	// StatusField is a gjson path into the response body. When present and not
	// one of SuccessValues, a 2xx response is treated as a business failure.
	StatusField   string   `toml:"status_field"`
	SuccessValues []string `toml:"success_values"`

	Breaker BreakerConfig `toml:"breaker"`
}

// BreakerConfig configures the optional per-endpoint circuit breaker.
type BreakerConfig struct {
	Enabled          bool   `toml:"enabled"`
	FailureThreshold uint32 `toml:"failure_threshold"`
	Interval         string `toml:"interval"`
	OpenTimeout      string `toml:"open_timeout"`
	MaxHalfOpen      uint32 `toml:"max_half_open"`
}

// CatalogConfig locates the tool catalog file.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// TelemetryConfig contains OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	ServiceName  string `toml:"service_name"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
}

// GetTimeout parses the per-attempt timeout.
func (c *UpstreamConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// GetTransportBackoff parses the base delay used after timeouts and network errors.
func (c *UpstreamConfig) GetTransportBackoff() time.Duration {
	return parseDuration(c.TransportBackoff, 300*time.Millisecond)
}

// GetStatusBackoff parses the base delay used after retryable HTTP statuses.
func (c *UpstreamConfig) GetStatusBackoff() time.Duration {
	return parseDuration(c.StatusBackoff, 500*time.Millisecond)
}

// GetMaxRetryAfter parses the cap applied to Retry-After hints.
func (c *UpstreamConfig) GetMaxRetryAfter() time.Duration {
	return parseDuration(c.MaxRetryAfter, 30*time.Second)
}

// GetInterval parses the closed-state counter reset interval.
func (c *BreakerConfig) GetInterval() time.Duration {
	return parseDuration(c.Interval, 10*time.Second)
}

// GetOpenTimeout parses how long an open breaker waits before half-open.
func (c *BreakerConfig) GetOpenTimeout() time.Duration {
	return parseDuration(c.OpenTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies TOOLGATE_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("TOOLGATE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TOOLGATE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if baseURL := os.Getenv("TOOLGATE_UPSTREAM_URL"); baseURL != "" {
		config.Upstream.BaseURL = baseURL
	}
	if token := os.Getenv("TOOLGATE_UPSTREAM_TOKEN"); token != "" {
		config.Upstream.Token = token
	}
	if timeout := os.Getenv("TOOLGATE_UPSTREAM_TIMEOUT"); timeout != "" {
		config.Upstream.Timeout = timeout
	}
	if retries := os.Getenv("TOOLGATE_UPSTREAM_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n >= 0 {
			config.Upstream.MaxRetries = n
		}
	}
	if path := os.Getenv("TOOLGATE_CATALOG_PATH"); path != "" {
		config.Catalog.Path = path
	}
	if endpoint := os.Getenv("TOOLGATE_OTLP_ENDPOINT"); endpoint != "" {
		config.Telemetry.OTLPEndpoint = endpoint
		config.Telemetry.Enabled = true
	}
	if level := os.Getenv("TOOLGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("TOOLGATE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if outputs := os.Getenv("TOOLGATE_LOG_OUTPUTS"); outputs != "" {
		config.Logging.Outputs = strings.Split(outputs, ",")
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host, upstreamURL, catalogPath string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if upstreamURL != "" {
		config.Upstream.BaseURL = upstreamURL
	}
	if catalogPath != "" {
		config.Catalog.Path = catalogPath
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must be an http(s) URL, got %q", c.Upstream.BaseURL)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
