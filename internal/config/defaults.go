package config

import "github.com/bobmcallan/toolgate/internal/common"

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         4250,
			Host:         "localhost",
			Name:         "toolgate",
			MaxBodyBytes: 1 << 20,
		},
		Upstream: UpstreamConfig{
			BaseURL:          "http://localhost:8080",
			AuthHeader:       "Authorization",
			AuthScheme:       "Bearer",
			OverrideHeader:   "X-Upstream-Authorization",
			BaseURLHeader:    "X-Upstream-Base-URL",
			Timeout:          "10s",
			MaxRetries:       2,
			TransportBackoff: "300ms",
			StatusBackoff:    "500ms",
			MaxRetryAfter:    "30s",
			MaxResponseBytes: 50 << 20,
			StatusField:      "status",
			SuccessValues:    []string{"SUCCESS", "success", "OK", "ok"},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Interval:         "10s",
				OpenTimeout:      "30s",
				MaxHalfOpen:      3,
			},
		},
		Catalog: CatalogConfig{
			Path: "./catalog.yaml",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "toolgate",
		},
		Logging: common.LoggingConfig{
			Level:      "info",
			Format:     "text",
			Outputs:    []string{"console"},
			FilePath:   "logs/toolgate.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}
