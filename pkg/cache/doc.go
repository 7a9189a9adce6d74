// Package cache provides a bounded in-process cache with secondary indexes
// by owner, category, and key, backed by a pluggable durable store.
//
// Invariants:
// - The in-memory entry count never exceeds the configured maximum; the
//   least recently used entries are evicted first.
// - Expired entries are never returned and are purged on access.
// - Writes persist to the durable backend before touching the indexes.
//
// Usage:
//
//	c, _ := cache.New(cache.Config{MaxEntries: 1000, Backend: cache.NewMemoryBackend()})
//	entry, _ := c.Store(ctx, "user:1", "sess:1", cache.CategoryFact, "likes", "coffee", cache.StoreOptions{})
//	_ = entry
package cache
