package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/mnemo/internal/observability"
	"github.com/rs/zerolog"
)

// Cache is the bounded multi-indexed LRU cache over memory entries
type Cache struct {
	logger     zerolog.Logger
	backend    Backend
	maxEntries int
	defaultTTL time.Duration

	mu         sync.Mutex // one critical section per instance
	elements   map[string]*list.Element
	order      *list.List // front = most recently used
	byOwner    map[string]map[string]struct{}
	byCategory map[Category]map[string]struct{}
	byKey      map[string]map[string]struct{}
}

// Config holds cache configuration
type Config struct {
	MaxEntries int
	DefaultTTL time.Duration // zero means entries never expire by default
	Backend    Backend
	Logger     zerolog.Logger
}

// New creates a new indexed cache
func New(cfg Config) (*Cache, error) {
	observability.EnsureRegistered()

	if cfg.MaxEntries <= 0 {
		return nil, errors.New("max entries must be positive")
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}

	c := &Cache{
		logger:     cfg.Logger,
		backend:    cfg.Backend,
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		elements:   make(map[string]*list.Element),
		order:      list.New(),
		byOwner:    make(map[string]map[string]struct{}),
		byCategory: make(map[Category]map[string]struct{}),
		byKey:      make(map[string]map[string]struct{}),
	}

	c.logger.Info().Int("max_entries", cfg.MaxEntries).Msg("Indexed cache initialized")
	return c, nil
}

// Store persists a new entry, then indexes it and evicts over capacity
func (c *Cache) Store(ctx context.Context, owner, session string, category Category, key string, value any, opts StoreOptions) (*Entry, error) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		Owner:      owner,
		Session:    session,
		Category:   category,
		Key:        key,
		Value:      value,
		Tags:       opts.Tags,
		Importance: opts.Importance,
		Source:     opts.Source,
		CreatedAt:  time.Now(),
		TTL:        ttl,
	}
	if err := entry.validate(); err != nil {
		return nil, err
	}

	// Durability first: the backend row must exist before the entry is
	// visible in the indexes.
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}
	if _, err := c.backend.Save(ctx, docKey(entry.ID), owner, raw); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.admit(entry)
	c.evictOverCapacity()
	observability.SetCacheEntries(c.order.Len())

	c.logger.Debug().
		Str("id", entry.ID).
		Str("owner", owner).
		Str("category", string(category)).
		Str("key", key).
		Msg("Entry stored")

	return entry, nil
}

// GetByOwner returns the owner's non-expired entries, newest first. An
// empty category matches all categories. On index miss it falls back to
// the durable backend and repopulates the cache.
func (c *Cache) GetByOwner(ctx context.Context, owner string, category Category) ([]*Entry, error) {
	c.mu.Lock()
	ids := c.byOwner[owner]
	hit := len(ids) > 0
	var results []*Entry
	if hit {
		now := time.Now()
		for id := range ids {
			entry := c.entryByID(id)
			if entry == nil {
				continue
			}
			if entry.Expired(now) {
				c.purge(id, "ttl")
				continue
			}
			if category != "" && entry.Category != category {
				continue
			}
			c.touch(id)
			results = append(results, entry)
		}
	}
	c.mu.Unlock()

	observability.RecordCacheLookup("owner", hit)
	if hit {
		sortNewestFirst(results)
		return results, nil
	}

	docs, err := c.backend.LoadAll(ctx, owner)
	if err != nil {
		return nil, err
	}

	entries, err := c.repopulate(docs)
	if err != nil {
		return nil, err
	}

	results = results[:0]
	for _, entry := range entries {
		if category != "" && entry.Category != category {
			continue
		}
		results = append(results, entry)
	}
	sortNewestFirst(results)
	return results, nil
}

// GetByKey returns the owner's entry for a logical key. The key index is
// intersected with the owner; a miss falls back to a durable scan.
func (c *Cache) GetByKey(ctx context.Context, owner, key string) (*Entry, error) {
	c.mu.Lock()
	now := time.Now()
	var found *Entry
	for id := range c.byKey[key] {
		entry := c.entryByID(id)
		if entry == nil || entry.Owner != owner {
			continue
		}
		if entry.Expired(now) {
			c.purge(id, "ttl")
			continue
		}
		if found == nil || entry.CreatedAt.After(found.CreatedAt) {
			found = entry
		}
	}
	if found != nil {
		c.touch(found.ID)
	}
	c.mu.Unlock()

	observability.RecordCacheLookup("key", found != nil)
	if found != nil {
		return found, nil
	}

	docs, err := c.backend.LoadAll(ctx, owner)
	if err != nil {
		return nil, err
	}

	entries, err := c.repopulate(docs)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Key == key {
			if found == nil || entry.CreatedAt.After(found.CreatedAt) {
				found = entry
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: owner %q key %q", ErrNotFound, owner, key)
	}
	return found, nil
}

// GetByID returns a single entry, loading it from the backend on miss
func (c *Cache) GetByID(ctx context.Context, id string) (*Entry, error) {
	c.mu.Lock()
	entry := c.entryByID(id)
	if entry != nil {
		if entry.Expired(time.Now()) {
			c.purge(id, "ttl")
			entry = nil
		} else {
			c.touch(id)
		}
	}
	c.mu.Unlock()

	observability.RecordCacheLookup("id", entry != nil)
	if entry != nil {
		return entry, nil
	}

	doc, err := c.backend.Load(ctx, docKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: entry %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	loaded, err := decodeEntry(doc.Value)
	if err != nil {
		return nil, err
	}
	if loaded.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: entry %q", ErrNotFound, id)
	}

	c.mu.Lock()
	c.admit(loaded)
	c.evictOverCapacity()
	observability.SetCacheEntries(c.order.Len())
	c.mu.Unlock()

	return loaded, nil
}

// Clear removes all of an owner's entries from the cache and the backend,
// returning the number of durable rows removed
func (c *Cache) Clear(ctx context.Context, owner string) (int, error) {
	count, err := c.backend.DeleteAll(ctx, owner)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	for id := range c.byOwner[owner] {
		c.purge(id, "clear")
	}
	observability.SetCacheEntries(c.order.Len())
	c.mu.Unlock()

	c.logger.Info().Str("owner", owner).Int("removed", count).Msg("Owner entries cleared")
	return count, nil
}

// InvalidateOwner drops an owner's entries from memory without touching
// the backend. Used when the durable rows changed underneath the cache.
func (c *Cache) InvalidateOwner(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for id := range c.byOwner[owner] {
		c.purge(id, "invalidated")
		dropped++
	}
	observability.SetCacheEntries(c.order.Len())

	if dropped > 0 {
		c.logger.Debug().Str("owner", owner).Int("dropped", dropped).Msg("Owner entries invalidated")
	}
}

// Compact proactively purges expired entries and returns how many were removed
func (c *Cache) Compact() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []string
	for id := range c.elements {
		if entry := c.entryByID(id); entry != nil && entry.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.purge(id, "ttl")
	}
	observability.SetCacheEntries(c.order.Len())

	if len(expired) > 0 {
		c.logger.Debug().Int("purged", len(expired)).Msg("Compaction completed")
	}
	return len(expired)
}

// Len returns the current in-memory entry count
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// admit indexes the entry and marks it most recently used
func (c *Cache) admit(entry *Entry) {
	if old, ok := c.elements[entry.ID]; ok {
		c.order.Remove(old)
		c.unindex(old.Value.(*Entry))
	}

	elem := c.order.PushFront(entry)
	c.elements[entry.ID] = elem
	indexAdd(c.byOwner, entry.Owner, entry.ID)
	indexAdd(c.byCategory, entry.Category, entry.ID)
	indexAdd(c.byKey, entry.Key, entry.ID)
}

// evictOverCapacity drops least recently used entries until within bounds
func (c *Cache) evictOverCapacity() {
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		entry := oldest.Value.(*Entry)
		c.purge(entry.ID, "lru")
	}
}

// purge removes an entry from the order list and every index
func (c *Cache) purge(id, reason string) {
	elem, ok := c.elements[id]
	if !ok {
		return
	}
	entry := elem.Value.(*Entry)
	c.order.Remove(elem)
	delete(c.elements, id)
	c.unindex(entry)
	observability.RecordCacheEviction(reason, 1)
}

func (c *Cache) unindex(entry *Entry) {
	indexRemove(c.byOwner, entry.Owner, entry.ID)
	indexRemove(c.byCategory, entry.Category, entry.ID)
	indexRemove(c.byKey, entry.Key, entry.ID)
}

func (c *Cache) entryByID(id string) *Entry {
	elem, ok := c.elements[id]
	if !ok {
		return nil
	}
	return elem.Value.(*Entry)
}

func (c *Cache) touch(id string) {
	if elem, ok := c.elements[id]; ok {
		c.order.MoveToFront(elem)
	}
}

// repopulate admits backend documents, skipping expired entries
func (c *Cache) repopulate(docs []*Document) ([]*Entry, error) {
	now := time.Now()
	var entries []*Entry
	for _, doc := range docs {
		entry, err := decodeEntry(doc.Value)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", doc.Key).Msg("Skipping undecodable document")
			continue
		}
		if entry.Expired(now) {
			continue
		}
		entries = append(entries, entry)
	}

	c.mu.Lock()
	for _, entry := range entries {
		c.admit(entry)
	}
	c.evictOverCapacity()
	observability.SetCacheEntries(c.order.Len())
	c.mu.Unlock()

	return entries, nil
}

func docKey(id string) string {
	return "entry:" + id
}

func decodeEntry(raw json.RawMessage) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

func sortNewestFirst(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

func indexAdd[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func indexRemove[K comparable](index map[K]map[string]struct{}, key K, id string) {
	if set, ok := index[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}
