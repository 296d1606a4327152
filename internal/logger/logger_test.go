package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.log")
	l, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	l.Info().Str("component", "test").Msg("hello from file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from file")
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestNewLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.log")
	l, err := New(Config{Level: "warn", File: path})
	require.NoError(t, err)

	l.Debug().Msg("too quiet")
	l.Warn().Msg("loud enough")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "too quiet")
	assert.Contains(t, string(data), "loud enough")
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.log")
	l, err := New(Config{Level: "shouty", File: path})
	require.NoError(t, err)
	defer l.Close()

	l.Info().Msg("still works")
	l.Debug().Msg("filtered")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "still works")
	assert.NotContains(t, string(data), "filtered")
}

func TestNewRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mika.log")
	l, err := New(Config{Level: "info", File: path, Redact: true})
	require.NoError(t, err)

	l.Info().Msg("key is sk-ant-REDACTED")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-ant-REDACTED")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestCloseWithoutFile(t *testing.T) {
	l, err := New(Config{Level: "info", Console: true, Pretty: false})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}
