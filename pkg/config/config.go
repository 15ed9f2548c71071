// Package config defines the runtime configuration consumed by the
// orchestration core: transport timeouts, connection pool sizing, session
// lifetimes, and the location of quality profiles and agent cards.
//
// Configuration is loaded from a YAML manifest and may be partially
// overridden by environment variables (see Loader). All durations are
// expressed in Go duration syntax ("30s", "5m").
package config

import (
	"time"
)

// RuntimeConfig is the top-level configuration for the orchestration runtime.
type RuntimeConfig struct {
	// LLMEndpoint is the base URL of the LLM service used by agents.
	// The core never calls it directly; it is passed through to agents
	// in dispatch metadata.
	LLMEndpoint string `yaml:"llmEndpoint,omitempty"`

	// Transport configures A2A client timeouts and retries.
	Transport TransportConfig `yaml:"transport,omitempty"`

	// Pool configures the shared connection pool.
	Pool PoolConfig `yaml:"pool,omitempty"`

	// Session configures per-request session lifetimes.
	Session SessionConfig `yaml:"session,omitempty"`

	// QualityProfilePath is the YAML file holding domain quality profiles.
	QualityProfilePath string `yaml:"qualityProfilePath,omitempty"`

	// AgentCardDir is the directory holding agent card JSON descriptors.
	AgentCardDir string `yaml:"agentCardDir,omitempty"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// Telemetry configures distributed trace export.
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`

	// MetricsAddr is the listen address for the Prometheus scrape
	// endpoint. Empty disables the metrics server.
	MetricsAddr string `yaml:"metricsAddr,omitempty"`

	// Orchestrator configures scheduling limits.
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
}

// TransportConfig holds A2A client settings.
type TransportConfig struct {
	// UnaryTimeout bounds message/send and task management calls.
	UnaryTimeout time.Duration `yaml:"unaryTimeout,omitempty"`

	// StreamingTimeout bounds a full message/stream exchange.
	StreamingTimeout time.Duration `yaml:"streamingTimeout,omitempty"`

	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// RetryBackoffBase is the first retry delay; each subsequent retry
	// doubles it up to RetryBackoffCap.
	RetryBackoffBase time.Duration `yaml:"retryBackoffBase,omitempty"`

	// RetryBackoffCap caps the exponential backoff delay.
	RetryBackoffCap time.Duration `yaml:"retryBackoffCap,omitempty"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	// MaxConnsPerHost bounds concurrent connections to one agent endpoint.
	MaxConnsPerHost int `yaml:"maxConnsPerHost,omitempty"`

	// MaxIdlePerHost bounds idle keep-alive connections per endpoint.
	MaxIdlePerHost int `yaml:"maxIdlePerHost,omitempty"`

	// IdleTimeout is how long idle connections are kept warm.
	IdleTimeout time.Duration `yaml:"idleTimeout,omitempty"`

	// HealthCheckInterval is how often endpoints are probed.
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval,omitempty"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// Expiration is the maximum session lifetime; the janitor cancels
	// sessions older than this.
	Expiration time.Duration `yaml:"expiration,omitempty"`

	// JanitorInterval is how often the janitor scans for expired sessions.
	JanitorInterval time.Duration `yaml:"janitorInterval,omitempty"`

	// RedisAddr switches the session journal from in-memory to Redis when
	// non-empty ("host:port").
	RedisAddr string `yaml:"redisAddr,omitempty"`

	// JournalTTL bounds how long Redis journal entries are retained.
	JournalTTL time.Duration `yaml:"journalTTL,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	// Enabled turns span export on. When false no TracerProvider is built.
	Enabled bool `yaml:"enabled,omitempty"`

	// OTLPEndpoint is the OTLP/HTTP collector URL.
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`

	// ServiceName is reported as service.name on exported spans.
	ServiceName string `yaml:"serviceName,omitempty"`
}

// OrchestratorConfig configures workflow scheduling.
type OrchestratorConfig struct {
	// NodeTimeout is the default per-node deadline.
	NodeTimeout time.Duration `yaml:"nodeTimeout,omitempty"`

	// MinParallel is the level size below which nodes run sequentially.
	MinParallel int `yaml:"minParallel,omitempty"`

	// MaxParallel caps concurrent dispatches per level. Zero is unbounded.
	MaxParallel int `yaml:"maxParallel,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the default log level: debug, info, warn, or error.
	Level string `yaml:"level,omitempty"`

	// Format is the output format: "json" or "text".
	Format string `yaml:"format,omitempty"`
}

// Log level constants for programmatic use.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants for programmatic use.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Default returns a RuntimeConfig populated with the documented defaults.
func Default() *RuntimeConfig {
	return &RuntimeConfig{
		Transport: TransportConfig{
			UnaryTimeout:     30 * time.Second,
			StreamingTimeout: 180 * time.Second,
			MaxRetries:       3,
			RetryBackoffBase: 500 * time.Millisecond,
			RetryBackoffCap:  10 * time.Second,
		},
		Pool: PoolConfig{
			MaxConnsPerHost:     10,
			MaxIdlePerHost:      5,
			IdleTimeout:         30 * time.Second,
			HealthCheckInterval: 300 * time.Second,
		},
		Session: SessionConfig{
			Expiration:      30 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "agentic-orchestrator",
		},
		Orchestrator: OrchestratorConfig{
			NodeTimeout: 180 * time.Second,
			MinParallel: 2,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *RuntimeConfig) Validate() error {
	if c.Transport.MaxRetries < 0 {
		return &ValidationError{Field: "transport.maxRetries", Message: "must be >= 0"}
	}
	if c.Transport.RetryBackoffBase < 0 {
		return &ValidationError{Field: "transport.retryBackoffBase", Message: "must be >= 0"}
	}
	if c.Transport.RetryBackoffCap != 0 && c.Transport.RetryBackoffCap < c.Transport.RetryBackoffBase {
		return &ValidationError{Field: "transport.retryBackoffCap", Message: "must be >= retryBackoffBase"}
	}
	if c.Pool.MaxConnsPerHost < 0 {
		return &ValidationError{Field: "pool.maxConnsPerHost", Message: "must be >= 0"}
	}
	if c.Session.Expiration < 0 {
		return &ValidationError{Field: "session.expiration", Message: "must be >= 0"}
	}
	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		return &ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
			Value:   c.Logging.Level,
		}
	}
	if c.Logging.Format != "" && c.Logging.Format != LogFormatJSON && c.Logging.Format != LogFormatText {
		return &ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, text",
			Value:   c.Logging.Format,
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return &ValidationError{Field: "telemetry.otlpEndpoint", Message: "required when telemetry is enabled"}
	}
	if c.Orchestrator.MinParallel < 0 {
		return &ValidationError{Field: "orchestrator.minParallel", Message: "must be >= 0"}
	}
	if c.Orchestrator.MaxParallel < 0 {
		return &ValidationError{Field: "orchestrator.maxParallel", Message: "must be >= 0"}
	}
	return nil
}

// isValidLogLevel checks if a log level string is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return "config validation error: " + e.Field + ": " + e.Message + " (got: " + e.Value + ")"
	}
	return "config validation error: " + e.Field + ": " + e.Message
}
