package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetya/mika/pkg/message"
	"github.com/prasetya/mika/pkg/session"
)

func seedSession(t *testing.T, dataDir string) string {
	t.Helper()
	store, err := session.NewStore(filepath.Join(dataDir, "sessions"))
	require.NoError(t, err)
	defer store.Close()

	sess, err := store.Create(context.Background(), "claude-sonnet-4-5", "anthropic")
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), sess.ID, message.NewUserMessage("hello there")))
	return sess.ID
}

func TestSessionsListEmpty(t *testing.T) {
	testConfig(t)
	out, err := execute(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions.")
}

func TestSessionsListShowsSummary(t *testing.T) {
	dir := testConfig(t)
	id := seedSession(t, dir)

	out, err := execute(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "claude-sonnet-4-5")
}

func TestSessionsShowPrintsTranscript(t *testing.T) {
	dir := testConfig(t)
	id := seedSession(t, dir)

	out, err := execute(t, "sessions", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "--- user ---")
	assert.Contains(t, out, "hello there")
}

func TestSessionsShowMissing(t *testing.T) {
	testConfig(t)
	_, err := execute(t, "sessions", "show", "nope1234")
	assert.Error(t, err)
}

func TestSessionsDelete(t *testing.T) {
	dir := testConfig(t)
	id := seedSession(t, dir)

	out, err := execute(t, "sessions", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted session "+id)

	out, err = execute(t, "sessions", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, id)
}
