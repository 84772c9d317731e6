// Package config loads and validates the runtime configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wovenbot/loom/pkg/models"
)

// Config is the main configuration structure for the loom runtime.
type Config struct {
	Agent     AgentConfig    `yaml:"agent"`
	Model     ModelConfig    `yaml:"model"`
	Fallbacks []ModelConfig  `yaml:"fallbacks"`
	Retry     RetryConfig    `yaml:"retry"`
	Security  SecurityConfig `yaml:"security"`
	Session   SessionConfig  `yaml:"session"`
	Hooks     []HookConfig   `yaml:"hooks"`
	Logging   LoggingConfig  `yaml:"logging"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	// MaxTurns caps assistant turns per run.
	MaxTurns int `yaml:"max_turns"`
	// MaxDurationSecs caps the wall clock of a run.
	MaxDurationSecs int `yaml:"max_duration_secs"`
	// ParallelTools allows concurrent execution of auto-approved tool calls.
	ParallelTools *bool `yaml:"parallel_tools"`
	// MaxParallelTools bounds concurrent tool executions.
	MaxParallelTools int `yaml:"max_parallel_tools"`
	// ToolTimeoutSecs is the per-tool execution timeout unless the tool
	// declares its own.
	ToolTimeoutSecs int `yaml:"tool_timeout_secs"`
	// SystemPrompt overrides the assembled workspace prompt. A "file:"
	// prefix reads the prompt from disk.
	SystemPrompt string `yaml:"system_prompt"`
	// Workspace is the directory holding the prompt context files.
	Workspace string `yaml:"workspace"`
	// HistoryLimit caps the messages loaded from the store per run.
	HistoryLimit int `yaml:"history_limit"`
}

// ModelConfig selects a provider and model.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// RetryConfig controls the retry and fallback behaviour of model requests.
type RetryConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

// SecurityConfig drives the security gate.
type SecurityConfig struct {
	// TierPolicy maps a tier name ("T2") to "allow", "ask", or "deny".
	// Unlisted tiers use the built-in default.
	TierPolicy map[string]string `yaml:"tier_policy"`
	// ToolTiers overrides the tier a tool declared for itself.
	ToolTiers map[string]string `yaml:"tool_tiers"`
	// AlwaysAsk forces approval for the named tools regardless of tier.
	AlwaysAsk []string `yaml:"always_ask"`
	// NeverAsk waives approval for the named tools regardless of tier.
	NeverAsk []string `yaml:"never_ask"`
	// AlwaysDeny blocks the named tools unconditionally.
	AlwaysDeny []string `yaml:"always_deny"`
	// ApprovalTimeoutSecs bounds how long a run waits for an approval.
	ApprovalTimeoutSecs int `yaml:"approval_timeout_secs"`
}

// SessionConfig selects the transcript store.
type SessionConfig struct {
	// Store is "memory" or "sqlite".
	Store string `yaml:"store"`
	// Path is the SQLite database file when Store is "sqlite".
	Path string `yaml:"path"`
}

// HookConfig declares a shell command to run on a lifecycle event.
type HookConfig struct {
	// Event is one of run_started, run_completed, tool_call_completed,
	// approval_resolved.
	Event   string `yaml:"event"`
	Command string `yaml:"command"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file, expanding ${VAR} references
// from the environment and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 25
	}
	if cfg.Agent.MaxDurationSecs == 0 {
		cfg.Agent.MaxDurationSecs = 600
	}
	if cfg.Agent.ParallelTools == nil {
		t := true
		cfg.Agent.ParallelTools = &t
	}
	if cfg.Agent.MaxParallelTools == 0 {
		cfg.Agent.MaxParallelTools = 5
	}
	if cfg.Agent.ToolTimeoutSecs == 0 {
		cfg.Agent.ToolTimeoutSecs = 30
	}
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = "."
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = 200
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 4096
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialBackoffMs == 0 {
		cfg.Retry.InitialBackoffMs = 500
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 8000
	}

	if cfg.Security.ApprovalTimeoutSecs == 0 {
		cfg.Security.ApprovalTimeoutSecs = 300
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = "loom.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate rejects configurations the runtime cannot honour.
func (c *Config) Validate() error {
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("agent.max_turns must be positive")
	}
	if c.Agent.MaxDurationSecs < 1 {
		return fmt.Errorf("agent.max_duration_secs must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.InitialBackoffMs < 1 || c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry backoff bounds are invalid")
	}

	switch c.Session.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("session.store must be memory or sqlite, got %q", c.Session.Store)
	}

	for tier, action := range c.Security.TierPolicy {
		if _, err := models.ParseTier(tier); err != nil {
			return fmt.Errorf("security.tier_policy: %w", err)
		}
		switch action {
		case "allow", "ask", "deny":
		default:
			return fmt.Errorf("security.tier_policy[%s]: action must be allow, ask, or deny, got %q", tier, action)
		}
	}
	for tool, tier := range c.Security.ToolTiers {
		if _, err := models.ParseTier(tier); err != nil {
			return fmt.Errorf("security.tool_tiers[%s]: %w", tool, err)
		}
	}

	for i, hook := range c.Hooks {
		switch hook.Event {
		case "run_started", "message_received", "run_completed", "tool_call_completed", "approval_resolved":
		default:
			return fmt.Errorf("hooks[%d]: unknown event %q", i, hook.Event)
		}
		if hook.Command == "" {
			return fmt.Errorf("hooks[%d]: command is required", i)
		}
	}
	return nil
}

// ParallelToolsEnabled reports whether concurrent tool execution is on.
func (c *Config) ParallelToolsEnabled() bool {
	return c.Agent.ParallelTools == nil || *c.Agent.ParallelTools
}
