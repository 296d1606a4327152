package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{ID: "main", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 0},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "claude-sonnet-4-5", cfg.Model.Default)
	assert.Equal(t, 16, cfg.Model.MaxRounds)
	assert.Equal(t, 4, cfg.Tools.MaxParallel)
	assert.Equal(t, "@hourly", cfg.Sessions.CleanupSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redact)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.False(t, cfg.Gateway.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "no profiles",
			mutate:  func(c *Config) { c.AI.Profiles = nil },
			wantErr: "at least one AI profile",
		},
		{
			name:    "profile missing id",
			mutate:  func(c *Config) { c.AI.Profiles[0].ID = "" },
			wantErr: "id is required",
		},
		{
			name: "duplicate profile id",
			mutate: func(c *Config) {
				c.AI.Profiles = append(c.AI.Profiles, c.AI.Profiles[0])
			},
			wantErr: "duplicate id",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.AI.Profiles[0].Provider = "cohere" },
			wantErr: "invalid provider",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.AI.Profiles[0].APIKey = "" },
			wantErr: "api_key is required",
		},
		{
			name:    "missing default model",
			mutate:  func(c *Config) { c.Model.Default = "" },
			wantErr: "model.default is required",
		},
		{
			name:    "tracing ratio out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRatio = 1.5 },
			wantErr: "tracing.sample_ratio",
		},
		{
			name: "gateway without secret",
			mutate: func(c *Config) {
				c.Gateway.Enabled = true
				c.Gateway.SharedSecret = ""
			},
			wantErr: "shared_secret is required",
		},
		{
			name: "gateway bad port",
			mutate: func(c *Config) {
				c.Gateway.Enabled = true
				c.Gateway.SharedSecret = "s3cret"
				c.Gateway.Port = 0
			},
			wantErr: "gateway.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestStringRedactsNothingButIsValidJSON(t *testing.T) {
	cfg := validConfig()
	s := cfg.String()
	assert.Contains(t, s, `"model"`)
	assert.Contains(t, s, `"profiles"`)
}
