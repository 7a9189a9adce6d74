package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T, maxEntries int) (*Cache, *MemoryBackend) {
	backend := NewMemoryBackend()
	c, err := New(Config{
		MaxEntries: maxEntries,
		Backend:    backend,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return c, backend
}

func TestCache_StoreAndGetByID(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	entry, err := c.Store(ctx, "user:1", "sess:1", CategoryFact, "likes", "coffee", StoreOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)

	got, err := c.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "coffee", got.Value)
	assert.Equal(t, "user:1", got.Owner)
}

func TestCache_StoreValidation(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	tests := []struct {
		name     string
		owner    string
		category Category
		key      string
	}{
		{"empty owner", "", CategoryFact, "k"},
		{"empty key", "user:1", CategoryFact, ""},
		{"unknown category", "user:1", Category("bogus"), "k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Store(ctx, tt.owner, "", tt.category, tt.key, "v", StoreOptions{})
			assert.Error(t, err)
		})
	}
}

func TestCache_LRUEvictionAtCapacity(t *testing.T) {
	c, _ := setupTestCache(t, 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		entry, err := c.Store(ctx, "user:1", "", CategoryFact, fmt.Sprintf("k%d", i), i, StoreOptions{})
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}
	assert.Equal(t, 3, c.Len())

	// The fourth store evicts exactly the least recently used entry
	_, err := c.Store(ctx, "user:1", "", CategoryFact, "k3", 3, StoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	c.mu.Lock()
	_, evicted := c.elements[ids[0]]
	_, kept1 := c.elements[ids[1]]
	_, kept2 := c.elements[ids[2]]
	c.mu.Unlock()
	assert.False(t, evicted)
	assert.True(t, kept1)
	assert.True(t, kept2)
}

func TestCache_TouchProtectsFromEviction(t *testing.T) {
	c, _ := setupTestCache(t, 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		entry, err := c.Store(ctx, "user:1", "", CategoryFact, fmt.Sprintf("k%d", i), i, StoreOptions{})
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	// Reading the oldest entry repositions it as most recent
	_, err := c.GetByID(ctx, ids[0])
	require.NoError(t, err)

	_, err = c.Store(ctx, "user:1", "", CategoryFact, "k3", 3, StoreOptions{})
	require.NoError(t, err)

	c.mu.Lock()
	_, protected := c.elements[ids[0]]
	_, evicted := c.elements[ids[1]]
	c.mu.Unlock()
	assert.True(t, protected)
	assert.False(t, evicted)
}

func TestCache_TTLExpiry(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	entry, err := c.Store(ctx, "user:1", "", CategoryFact, "temp", "v", StoreOptions{TTL: 30 * time.Millisecond})
	require.NoError(t, err)

	got, err := c.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Value)

	time.Sleep(50 * time.Millisecond)

	_, err = c.GetByID(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetByOwnerNewestFirst(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Store(ctx, "user:1", "", CategoryFact, fmt.Sprintf("k%d", i), i, StoreOptions{})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := c.Store(ctx, "user:2", "", CategoryFact, "other", "x", StoreOptions{})
	require.NoError(t, err)

	entries, err := c.GetByOwner(ctx, "user:1", "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "k2", entries[0].Key)
	assert.Equal(t, "k0", entries[2].Key)
}

func TestCache_GetByOwnerCategoryFilter(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	_, err := c.Store(ctx, "user:1", "", CategoryFact, "f", 1, StoreOptions{})
	require.NoError(t, err)
	_, err = c.Store(ctx, "user:1", "", CategoryTask, "t", 2, StoreOptions{})
	require.NoError(t, err)

	entries, err := c.GetByOwner(ctx, "user:1", CategoryTask)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "t", entries[0].Key)
}

func TestCache_GetByOwnerPurgesExpired(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	_, err := c.Store(ctx, "user:1", "", CategoryFact, "temp", 1, StoreOptions{TTL: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Store(ctx, "user:1", "", CategoryFact, "keep", 2, StoreOptions{})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	entries, err := c.GetByOwner(ctx, "user:1", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Key)
	assert.Equal(t, 1, c.Len())
}

func TestCache_GetByOwnerFallsBackToBackend(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	first, err := New(Config{MaxEntries: 10, Backend: backend, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = first.Store(ctx, "user:1", "", CategoryFact, "k", "v", StoreOptions{})
	require.NoError(t, err)

	// A cold cache over the same backend must recover the entries
	second, err := New(Config{MaxEntries: 10, Backend: backend, Logger: zerolog.Nop()})
	require.NoError(t, err)

	entries, err := second.GetByOwner(ctx, "user:1", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].Key)
	assert.Equal(t, 1, second.Len())
}

func TestCache_GetByKey(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	_, err := c.Store(ctx, "user:1", "", CategoryFact, "likes", "coffee", StoreOptions{})
	require.NoError(t, err)
	_, err = c.Store(ctx, "user:2", "", CategoryFact, "likes", "tea", StoreOptions{})
	require.NoError(t, err)

	entry, err := c.GetByKey(ctx, "user:1", "likes")
	require.NoError(t, err)
	assert.Equal(t, "coffee", entry.Value)

	entry, err = c.GetByKey(ctx, "user:2", "likes")
	require.NoError(t, err)
	assert.Equal(t, "tea", entry.Value)

	_, err = c.GetByKey(ctx, "user:3", "likes")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_GetByKeyFallsBackToScan(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	first, err := New(Config{MaxEntries: 10, Backend: backend, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = first.Store(ctx, "user:1", "", CategoryFact, "likes", "coffee", StoreOptions{})
	require.NoError(t, err)

	second, err := New(Config{MaxEntries: 10, Backend: backend, Logger: zerolog.Nop()})
	require.NoError(t, err)

	entry, err := second.GetByKey(ctx, "user:1", "likes")
	require.NoError(t, err)
	assert.Equal(t, "coffee", entry.Value)
}

func TestCache_GetByIDRepopulatesFromBackend(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	entry, err := c.Store(ctx, "user:1", "", CategoryFact, "k", "v", StoreOptions{})
	require.NoError(t, err)

	c.InvalidateOwner("user:1")
	assert.Equal(t, 0, c.Len())

	got, err := c.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Value)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Clear(t *testing.T) {
	c, backend := setupTestCache(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Store(ctx, "user:1", "", CategoryFact, fmt.Sprintf("k%d", i), i, StoreOptions{})
		require.NoError(t, err)
	}
	_, err := c.Store(ctx, "user:2", "", CategoryFact, "other", "x", StoreOptions{})
	require.NoError(t, err)

	count, err := c.Clear(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.Len())

	docs, err := backend.LoadAll(ctx, "user:1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	entries, err := c.GetByOwner(ctx, "user:2", "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCache_Compact(t *testing.T) {
	c, _ := setupTestCache(t, 10)
	ctx := context.Background()

	_, err := c.Store(ctx, "user:1", "", CategoryFact, "temp1", 1, StoreOptions{TTL: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Store(ctx, "user:1", "", CategoryFact, "temp2", 2, StoreOptions{TTL: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Store(ctx, "user:1", "", CategoryFact, "keep", 3, StoreOptions{})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	purged := c.Compact()
	assert.Equal(t, 2, purged)
	assert.Equal(t, 1, c.Len())
}

func TestCache_DefaultTTLApplied(t *testing.T) {
	backend := NewMemoryBackend()
	c, err := New(Config{
		MaxEntries: 10,
		DefaultTTL: 25 * time.Millisecond,
		Backend:    backend,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	entry, err := c.Store(ctx, "user:1", "", CategoryFact, "k", "v", StoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 25*time.Millisecond, entry.TTL)

	time.Sleep(50 * time.Millisecond)
	_, err = c.GetByID(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
