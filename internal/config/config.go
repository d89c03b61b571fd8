// Package config loads agentcore's YAML configuration into a single typed
// Config struct, following the reference loader's env-expand-then-unmarshal
// shape without its $include/JSON5 machinery (this core has no need for
// multi-file composition).
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the agentcore runtime.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Session       SessionConfig       `yaml:"session"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

// ServerConfig configures process-level binding and storage location.
type ServerConfig struct {
	// DataDir is the root directory under which sessions/, context/, and
	// supervisor/ state is persisted.
	DataDir string `yaml:"data_dir"`

	// CLIBind is the address the operator CLI's status/interrupt surface
	// listens on, when run as a long-lived daemon rather than one-shot.
	CLIBind string `yaml:"cli_bind"`
}

// SessionConfig configures the session store and lock manager.
type SessionConfig struct {
	// LockTimeout bounds how long a Run call waits to acquire a session's
	// lock before failing with ErrLockTimeout. Defaults to 300s.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// CompactionThresholdTokens is the context-window usage, in estimated
	// tokens, above which the compactor summarizes history. Defaults to
	// 100000.
	CompactionThresholdTokens int `yaml:"compaction_threshold_tokens"`

	// PreserveLastMessages is the number of most recent messages the
	// compactor never summarizes away. Defaults to 10.
	PreserveLastMessages int `yaml:"preserve_last_messages"`
}

// LLMConfig configures the provider list behind the failover orchestrator.
type LLMConfig struct {
	// DefaultProvider is tried first; FallbackChain is tried in order
	// after it fails or trips its circuit breaker.
	DefaultProvider string                `yaml:"default_provider"`
	FallbackChain   []string              `yaml:"fallback_chain"`
	Providers       map[string]LLMProvider `yaml:"providers"`

	// RequestTimeout bounds a single LLM HTTP call. Defaults to 60s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxIterations bounds how many LLM/tool round-trips one Run call may
	// take before failing with ErrMaxIterations. Defaults to 25.
	MaxIterations int `yaml:"max_iterations"`
}

// LLMProvider configures a single LLM backend (Anthropic, OpenAI,
// Bedrock, or Gemini).
type LLMProvider struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	Region       string `yaml:"region,omitempty"` // Bedrock only
}

// ToolsConfig configures the tool dispatcher's permission engine.
type ToolsConfig struct {
	// PermissionProfile selects the default tier applied to tools that
	// don't declare their own: "read", "write", "execute", or
	// "system_critical".
	PermissionProfile string `yaml:"permission_profile"`

	// BlockedPatterns are substrings that, if present in a tool's input,
	// cause an automatic Deny regardless of permission tier.
	BlockedPatterns []string `yaml:"blocked_patterns"`

	// RateLimitPerMinute caps tool invocations per session per minute.
	// Zero disables the limiter.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// ApprovalTimeout bounds how long a RequiresApproval decision waits
	// before defaulting to deny. Defaults to 30s.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// ExecutionTimeout bounds a single tool call unless the tool
	// overrides it. Defaults to 5s.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
}

// SupervisorConfig configures the task scheduler and concurrency gate.
type SupervisorConfig struct {
	// ConcurrencyGateCapacity is the global semaphore's permit count,
	// shared by every agent loop invocation across every session and
	// lane. Defaults to 100.
	ConcurrencyGateCapacity int `yaml:"concurrency_gate_capacity"`

	// MaxBackgroundLanes bounds concurrently running background tasks.
	// Defaults to 8.
	MaxBackgroundLanes int `yaml:"max_background_lanes"`

	// PruneKeep is the number of most-recent terminal tasks Prune keeps.
	// Defaults to 200.
	PruneKeep int `yaml:"prune_keep"`

	// AllowRunNow permits the "run now alongside" conflict resolution.
	// Defaults to false.
	AllowRunNow bool `yaml:"allow_run_now"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	// LogLevel is one of "debug", "info", "warn", "error". Overridable
	// post-load by the AGENTCORE_LOG_LEVEL environment variable.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format"`

	// MetricsBind is the address the Prometheus metrics endpoint listens
	// on, e.g. "0.0.0.0:9090".
	MetricsBind string `yaml:"metrics_bind"`
}

// AuditConfig configures the append-only audit logger.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is a file path, "stdout", or a "sqlite:<path>" DSN selecting
	// the SQL-backed sink.
	Output string `yaml:"output"`

	// SampleRate is the fraction (0.0-1.0) of successful tool invocations
	// logged; failures are always logged regardless of sample rate.
	// Defaults to 1.0.
	SampleRate float64 `yaml:"sample_rate"`
}

// Load reads path, expands ${VAR} references against the process
// environment, decodes the result as YAML into a Config, applies
// environment-variable overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single YAML document", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies the small set of environment variables that
// override config values post-load, per the operator interface contract.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_LOG_LEVEL")); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_DATA_DIR")); v != "" {
		cfg.Server.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_GATE_CAPACITY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Supervisor.ConcurrencyGateCapacity = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "./data"
	}

	if cfg.Session.LockTimeout <= 0 {
		cfg.Session.LockTimeout = 300 * time.Second
	}
	if cfg.Session.CompactionThresholdTokens <= 0 {
		cfg.Session.CompactionThresholdTokens = 100000
	}
	if cfg.Session.PreserveLastMessages <= 0 {
		cfg.Session.PreserveLastMessages = 10
	}

	if cfg.LLM.RequestTimeout <= 0 {
		cfg.LLM.RequestTimeout = 60 * time.Second
	}
	if cfg.LLM.MaxIterations <= 0 {
		cfg.LLM.MaxIterations = 25
	}

	if cfg.Tools.PermissionProfile == "" {
		cfg.Tools.PermissionProfile = "read"
	}
	if cfg.Tools.ApprovalTimeout <= 0 {
		cfg.Tools.ApprovalTimeout = 30 * time.Second
	}
	if cfg.Tools.ExecutionTimeout <= 0 {
		cfg.Tools.ExecutionTimeout = 5 * time.Second
	}

	if cfg.Supervisor.ConcurrencyGateCapacity <= 0 {
		cfg.Supervisor.ConcurrencyGateCapacity = 100
	}
	if cfg.Supervisor.MaxBackgroundLanes <= 0 {
		cfg.Supervisor.MaxBackgroundLanes = 8
	}
	if cfg.Supervisor.PruneKeep <= 0 {
		cfg.Supervisor.PruneKeep = 200
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.MetricsBind == "" {
		cfg.Observability.MetricsBind = "127.0.0.1:9090"
	}

	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Audit.SampleRate <= 0 {
		cfg.Audit.SampleRate = 1.0
	}
}

func validate(cfg *Config) error {
	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: observability.log_level %q is not one of debug|info|warn|error", cfg.Observability.LogLevel)
	}

	switch cfg.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: observability.log_format %q is not one of json|text", cfg.Observability.LogFormat)
	}

	if cfg.LLM.DefaultProvider != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("config: llm.default_provider %q has no matching entry under llm.providers", cfg.LLM.DefaultProvider)
		}
	}

	if cfg.Audit.SampleRate < 0 || cfg.Audit.SampleRate > 1 {
		return fmt.Errorf("config: audit.sample_rate must be between 0 and 1, got %v", cfg.Audit.SampleRate)
	}

	return nil
}
