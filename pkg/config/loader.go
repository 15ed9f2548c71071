package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides recognized by Load.
const (
	envLLMEndpoint        = "AGENTIC_LLM_ENDPOINT"
	envUnaryTimeout       = "AGENTIC_UNARY_TIMEOUT"
	envStreamingTimeout   = "AGENTIC_STREAMING_TIMEOUT"
	envSessionExpiration  = "AGENTIC_SESSION_EXPIRATION"
	envQualityProfilePath = "AGENTIC_QUALITY_PROFILES"
	envAgentCardDir       = "AGENTIC_AGENT_CARDS"
	envOTLPEndpoint       = "AGENTIC_OTLP_ENDPOINT"
	envRedisAddr          = "AGENTIC_REDIS_ADDR"
)

// Load reads a RuntimeConfig from the YAML file at path, applies defaults
// for unset fields, applies environment overrides, and validates the result.
// An empty path yields the default configuration (still subject to env
// overrides).
func Load(path string) (*RuntimeConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays recognized environment variables onto cfg.
// Unparseable duration values are ignored in favor of the file/default value.
func applyEnvOverrides(cfg *RuntimeConfig) {
	if v := os.Getenv(envLLMEndpoint); v != "" {
		cfg.LLMEndpoint = v
	}
	if v := os.Getenv(envQualityProfilePath); v != "" {
		cfg.QualityProfilePath = v
	}
	if v := os.Getenv(envAgentCardDir); v != "" {
		cfg.AgentCardDir = v
	}
	if d, ok := envDuration(envUnaryTimeout); ok {
		cfg.Transport.UnaryTimeout = d
	}
	if d, ok := envDuration(envStreamingTimeout); ok {
		cfg.Transport.StreamingTimeout = d
	}
	if d, ok := envDuration(envSessionExpiration); ok {
		cfg.Session.Expiration = d
	}
	if v := os.Getenv(envOTLPEndpoint); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.Enabled = true
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.Session.RedisAddr = v
	}
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
