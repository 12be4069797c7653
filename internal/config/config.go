package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the pipeline gateway.
type Config struct {
	Port      int
	Version   string
	Pipeline  PipelineConfig
	Provider  ProviderConfig
	Events    EventsConfig
	Telemetry TelemetryConfig
	Metrics   MetricsConfig
}

// PipelineConfig covers session and ordering behavior.
type PipelineConfig struct {
	SessionReuseWindow time.Duration
}

// ProviderConfig covers the provider gateway and its backends.
type ProviderConfig struct {
	Kind    string
	APIKey  string
	BaseURL string
	Model   string

	FallbackKind    string
	FallbackAPIKey  string
	FallbackBaseURL string
	FallbackModel   string

	HealthCheckInterval time.Duration
	RateWindow          time.Duration
	RateMaxPerWindow    int
	MaxRetries          int
	CallTimeout         time.Duration
}

// EventsConfig covers the event bus.
type EventsConfig struct {
	QueueSize         int
	HeartbeatInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables with defaults
// matching the reference behavior: 30m session reuse, 5m health checks,
// 100 requests per 60s window, 30s heartbeats.
func Load() *Config {
	return &Config{
		Port:    envInt("OVERSEER_PORT", 8080),
		Version: envStr("OVERSEER_VERSION", "0.1.0"),
		Pipeline: PipelineConfig{
			SessionReuseWindow: envDuration("OVERSEER_SESSION_REUSE_WINDOW", 30*time.Minute),
		},
		Provider: ProviderConfig{
			Kind:    envStr("OVERSEER_PROVIDER", "anthropic"),
			APIKey:  envStr("OVERSEER_PROVIDER_API_KEY", ""),
			BaseURL: envStr("OVERSEER_PROVIDER_BASE_URL", ""),
			Model:   envStr("OVERSEER_PROVIDER_MODEL", ""),

			FallbackKind:    envStr("OVERSEER_FALLBACK_PROVIDER", ""),
			FallbackAPIKey:  envStr("OVERSEER_FALLBACK_API_KEY", ""),
			FallbackBaseURL: envStr("OVERSEER_FALLBACK_BASE_URL", ""),
			FallbackModel:   envStr("OVERSEER_FALLBACK_MODEL", ""),

			HealthCheckInterval: envDuration("OVERSEER_HEALTH_CHECK_INTERVAL", 5*time.Minute),
			RateWindow:          envDuration("OVERSEER_RATE_WINDOW", 60*time.Second),
			RateMaxPerWindow:    envInt("OVERSEER_RATE_MAX_PER_WINDOW", 100),
			MaxRetries:          envInt("OVERSEER_PROVIDER_MAX_RETRIES", 2),
			CallTimeout:         envDuration("OVERSEER_PROVIDER_CALL_TIMEOUT", 120*time.Second),
		},
		Events: EventsConfig{
			QueueSize:         envInt("OVERSEER_EVENT_QUEUE_SIZE", 64),
			HeartbeatInterval: envDuration("OVERSEER_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "overseer"),
		},
		Metrics: MetricsConfig{
			Enabled: envBool("OVERSEER_METRICS_ENABLED", true),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
