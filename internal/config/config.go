// Package config defines the mika configuration file format and its
// loader. Configuration lives at ~/.mika/mika.json and can be
// overridden with MIKA_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is the root mika configuration.
type Config struct {
	// DataDir holds sessions, logs and the session index. Defaults to
	// ~/.mika.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// WorkspaceRoot anchors relative paths passed to the file tools.
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace_root"`

	Model    ModelConfig    `json:"model" mapstructure:"model"`
	AI       AIConfig       `json:"ai" mapstructure:"ai"`
	Tools    ToolsConfig    `json:"tools" mapstructure:"tools"`
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	Gateway  GatewayConfig  `json:"gateway" mapstructure:"gateway"`
}

// ModelConfig holds the default turn parameters.
type ModelConfig struct {
	Default          string  `json:"default" mapstructure:"default"`
	SystemPrompt     string  `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	MaxTokens        int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `json:"temperature" mapstructure:"temperature"`
	MaxRounds        int     `json:"max_rounds" mapstructure:"max_rounds"`
	MaxContinuations int     `json:"max_continuations" mapstructure:"max_continuations"`
	MaxRetries       int     `json:"max_retries" mapstructure:"max_retries"`
}

// AIConfig holds provider credentials.
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile is one provider account. Profiles are tried in priority
// order (lower first).
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ToolsConfig shapes tool dispatch.
type ToolsConfig struct {
	MaxParallel int              `json:"max_parallel" mapstructure:"max_parallel"`
	Policy      ToolPolicyConfig `json:"policy" mapstructure:"policy"`
}

// ToolPolicyConfig allows or denies tools by name. Empty allow means
// everything not denied.
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// SessionsConfig shapes session storage and maintenance.
type SessionsConfig struct {
	MaxMessages     int    `json:"max_messages" mapstructure:"max_messages"`
	RetentionDays   int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	Console  bool   `json:"console" mapstructure:"console"`
	Pretty   bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
	Redact   bool   `json:"redact" mapstructure:"redact"`
}

// TracingConfig controls OpenTelemetry span export. SampleRatio is
// the head-sampling probability for new traces, in [0, 1].
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// GatewayConfig holds the websocket gateway configuration.
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:          "claude-sonnet-4-5",
			MaxTokens:        8192,
			Temperature:      0,
			MaxRounds:        16,
			MaxContinuations: 2,
			MaxRetries:       3,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Tools: ToolsConfig{
			MaxParallel: 4,
		},
		Sessions: SessionsConfig{
			MaxMessages:     500,
			RetentionDays:   7,
			CleanupSchedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			Pretty:   true,
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
			Redact:   true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRatio: 1.0,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8420,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the configuration for hard errors. Credentials are
// required; everything else has workable defaults.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: id is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate id", profile.ID)
		}
		seen[profile.ID] = true
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in 0..1, got %v", c.Tracing.SampleRatio)
	}

	if c.Gateway.Enabled {
		if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
			return fmt.Errorf("gateway.port must be in 1..65535, got %d", c.Gateway.Port)
		}
		if c.Gateway.SharedSecret == "" {
			return fmt.Errorf("gateway.shared_secret is required when the gateway is enabled")
		}
	}

	return nil
}
