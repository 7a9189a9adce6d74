package memstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, string) {
	tempDir := t.TempDir()
	store, err := New(Config{
		DBPath:    filepath.Join(tempDir, "memstore.db"),
		AuditPath: filepath.Join(tempDir, "audit.log"),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, tempDir
}

func TestStore_WriteAssignsContiguousVersions(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	v1, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := store.Write(ctx, "user:1", map[string]any{"value": "B"}, "edit")
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	versions, err := store.ListVersions(ctx, "user:1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
	assert.Equal(t, "edit", versions[1].Tag)
}

func TestStore_VersionsArePerKey(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	v, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = store.Write(ctx, "user:2", map[string]any{"value": "X"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestStore_ReadVersion(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)

	value, err := store.ReadVersion(ctx, "user:1", 1)
	require.NoError(t, err)
	assert.Equal(t, "A", value.Fields["value"])

	_, err = store.ReadVersion(ctx, "user:1", 2)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ReadVersion(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RollbackScenario(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "user:1", map[string]any{"value": "B"}, "")
	require.NoError(t, err)

	diff, err := store.Diff(ctx, "user:1", 1, 2)
	require.NoError(t, err)
	require.Len(t, diff, 1)
	assert.Equal(t, "A", diff["value"].From)
	assert.Equal(t, "B", diff["value"].To)

	v3, err := store.Rollback(ctx, "user:1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v3)

	restored, err := store.ReadVersion(ctx, "user:1", 3)
	require.NoError(t, err)
	assert.Equal(t, "A", restored.Fields["value"])

	versions, err := store.ListVersions(ctx, "user:1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "rollback-to-1", versions[2].Tag)
}

func TestStore_RollbackMissingVersion(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)

	_, err = store.Rollback(ctx, "user:1", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	// History must be untouched by the failed rollback
	versions, err := store.ListVersions(ctx, "user:1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestStore_ClearWritesTombstone(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)

	latest, err := store.Latest(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	v2, err := store.Clear(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	// Latest treats the tombstone as authoritative
	_, err = store.Latest(ctx, "user:1")
	assert.ErrorIs(t, err, ErrNotFound)

	// History is preserved, not truncated
	versions, err := store.ListVersions(ctx, "user:1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "clear", versions[1].Tag)

	value, err := store.ReadVersion(ctx, "user:1", 2)
	require.NoError(t, err)
	assert.True(t, value.Deleted)
}

func TestStore_WriteAfterClearResumesHistory(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)
	_, err = store.Clear(ctx, "user:1")
	require.NoError(t, err)

	v3, err := store.Write(ctx, "user:1", map[string]any{"value": "C"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, v3)

	latest, err := store.Latest(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, "C", latest.Value.Fields["value"])
}

func TestStore_EmptyKeyRejected(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Write(context.Background(), "", map[string]any{"value": "A"}, "")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestStore_AuditLinesWritten(t *testing.T) {
	store, tempDir := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "note")
	require.NoError(t, err)
	_, err = store.Rollback(ctx, "user:1", 1)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(tempDir, "audit.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "write key=user:1 version=1 tag=note")
	assert.Contains(t, lines[1], "rollback key=user:1 to version=1")
	for _, line := range lines {
		assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2}T`, line)
	}

	size, err := store.AuditSize()
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}

func TestStore_Status(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "user:1", map[string]any{"value": "B"}, "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "user:2", map[string]any{"value": "X"}, "")
	require.NoError(t, err)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalKeys)
	assert.Equal(t, 3, status.TotalVersions)
}
