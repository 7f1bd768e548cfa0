package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"kindred-chat/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDevelopment(t *testing.T) {
	store := repository.NewMemoryStore(nil)
	ctx := context.Background()

	result, err := SeedDevelopment(ctx, store.Users(), store.Conversations(), store.Messages())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Users)
	require.Len(t, result.Messages, 2)

	items, err := store.Conversations().ListForViewer(ctx, "u-001")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Hi there", items[0].LastMessage.Body)
	assert.Equal(t, 1, items[0].UnreadCount)
}

func TestMigrationFilesOrdering(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "000002_b.down.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}

	up, err := MigrationFiles(dir, Up)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "000001_a.up.sql"), filepath.Join(dir, "000002_b.up.sql")}, up)

	down, err := MigrationFiles(dir, Down)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "000002_b.down.sql"), filepath.Join(dir, "000001_a.down.sql")}, down)
}
