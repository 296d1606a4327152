package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(path, 1, 1, false)
	require.NoError(t, err)

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRotatingWriterRotatesAtSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(path, 1, 1, false)
	require.NoError(t, err)
	// Shrink the limit so two small writes force a rotation.
	w.maxBytes = 10

	_, err = w.Write([]byte("123456789\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("after\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var rotated int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "app.log.") {
			rotated++
		}
	}
	assert.Equal(t, 1, rotated)
}

func TestRotatingWriterCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "app.log")
	w, err := NewRotatingWriter(path, 1, 1, false)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("ok\n"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestRotatingWriterCleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	stale := path + ".20200101-000000"
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	w, err := NewRotatingWriter(path, 1, 1, false)
	require.NoError(t, err)
	defer w.Close()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 2*time.Second, 20*time.Millisecond)
	assert.FileExists(t, path)
}
