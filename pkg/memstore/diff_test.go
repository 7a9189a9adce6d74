package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_ChangedAddedRemovedFields(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "profile", map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
		"plan":  "free",
	}, "")
	require.NoError(t, err)

	_, err = store.Write(ctx, "profile", map[string]any{
		"name": "Ada",
		"plan": "pro",
		"team": "research",
	}, "")
	require.NoError(t, err)

	diff, err := store.Diff(ctx, "profile", 1, 2)
	require.NoError(t, err)

	// Unchanged fields are not reported
	assert.NotContains(t, diff, "name")

	assert.Equal(t, FieldDiff{From: "free", To: "pro"}, diff["plan"])
	assert.Equal(t, FieldDiff{From: "ada@example.com", To: nil}, diff["email"])
	assert.Equal(t, FieldDiff{From: nil, To: "research"}, diff["team"])
	assert.Len(t, diff, 3)
}

func TestDiff_MissingVersionTreatedAsEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "profile", map[string]any{"name": "Ada"}, "")
	require.NoError(t, err)

	diff, err := store.Diff(ctx, "profile", 99, 1)
	require.NoError(t, err)
	require.Len(t, diff, 1)
	assert.Equal(t, FieldDiff{From: nil, To: "Ada"}, diff["name"])

	diff, err = store.Diff(ctx, "profile", 1, 99)
	require.NoError(t, err)
	require.Len(t, diff, 1)
	assert.Equal(t, FieldDiff{From: "Ada", To: nil}, diff["name"])
}

func TestDiff_IdenticalVersions(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "profile", map[string]any{"name": "Ada"}, "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "profile", map[string]any{"name": "Ada"}, "")
	require.NoError(t, err)

	diff, err := store.Diff(ctx, "profile", 1, 2)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestDiff_NestedValuesComparedBySerializedForm(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "settings", map[string]any{
		"notify": map[string]any{"email": true, "push": false},
	}, "")
	require.NoError(t, err)

	_, err = store.Write(ctx, "settings", map[string]any{
		"notify": map[string]any{"email": true, "push": true},
	}, "")
	require.NoError(t, err)

	diff, err := store.Diff(ctx, "settings", 1, 2)
	require.NoError(t, err)
	require.Contains(t, diff, "notify")
}
