package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.json")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", cfg.Model.Default)
	assert.Empty(t, cfg.AI.Profiles)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.json")
	content := `{
		"model": {"default": "gpt-4o", "max_rounds": 5},
		"ai": {"profiles": [
			{"id": "work", "provider": "openai", "api_key": "sk-test", "priority": 1}
		]},
		"gateway": {"enabled": true, "port": 9000, "shared_secret": "hush"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Model.Default)
	assert.Equal(t, 5, cfg.Model.MaxRounds)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Model.MaxContinuations)
	assert.Equal(t, "@hourly", cfg.Sessions.CleanupSchedule)

	require.Len(t, cfg.AI.Profiles, 1)
	assert.Equal(t, "work", cfg.AI.Profiles[0].ID)
	assert.Equal(t, "openai", cfg.AI.Profiles[0].Provider)

	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoadBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadDerivedDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.json")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "mika.log"), cfg.Logging.File)
	assert.NotEmpty(t, cfg.WorkspaceRoot)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mika.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Model.Default = "claude-opus-4"
	cfg.AI.Profiles = []AIProfile{
		{ID: "main", Provider: "anthropic", APIKey: "sk-ant-abc", Priority: 0},
	}
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", loaded.Model.Default)
	require.Len(t, loaded.AI.Profiles, 1)
	assert.Equal(t, "sk-ant-abc", loaded.AI.Profiles[0].APIKey)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoaderPath(t *testing.T) {
	assert.Equal(t, "/tmp/custom.json", NewLoader("/tmp/custom.json").Path())
	assert.Contains(t, NewLoader("").Path(), filepath.Join(".mika", "mika.json"))
}
