package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/pkg/cache"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRoutes bounds the route_state map
	DefaultMaxRoutes = 5000
	// DefaultEvictionBatch is how many of the oldest routes go per overflow
	DefaultEvictionBatch = 500
	// DefaultCacheTTL is how long the in-memory copy is trusted
	DefaultCacheTTL = 5 * time.Minute

	documentKey   = "route-validation"
	documentOwner = "system"
)

// LoadSource identifies where a snapshot came from
type LoadSource string

const (
	LoadedFromCache   LoadSource = "cache"
	LoadedFromDB      LoadSource = "db"
	LoadedFromCreated LoadSource = "created"
)

// Result is a snapshot read with its provenance. MemoryVersion is the
// durable row's modification timestamp at load time.
type Result struct {
	Snapshot      *RouteSnapshot
	LoadedFrom    LoadSource
	MemoryVersion time.Time
}

// UpsertOptions carries attribution for route state updates
type UpsertOptions struct {
	UpdatedBy    string
	HardConflict bool
}

// Cache holds the single authoritative route snapshot
type Cache struct {
	backend cache.Backend
	logger  zerolog.Logger

	maxRoutes     int
	evictionBatch int
	cacheTTL      time.Duration

	mu            sync.Mutex
	cached        *RouteSnapshot
	cachedVersion time.Time
	cachedAt      time.Time
}

// Config holds snapshot cache configuration
type Config struct {
	Backend       cache.Backend
	Logger        zerolog.Logger
	MaxRoutes     int           // zero uses DefaultMaxRoutes
	EvictionBatch int           // zero uses DefaultEvictionBatch
	CacheTTL      time.Duration // zero uses DefaultCacheTTL
}

// New creates a new snapshot cache
func New(cfg Config) (*Cache, error) {
	observability.EnsureRegistered()

	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}

	c := &Cache{
		backend:       cfg.Backend,
		logger:        cfg.Logger,
		maxRoutes:     cfg.MaxRoutes,
		evictionBatch: cfg.EvictionBatch,
		cacheTTL:      cfg.CacheTTL,
	}
	if c.maxRoutes <= 0 {
		c.maxRoutes = DefaultMaxRoutes
	}
	if c.evictionBatch <= 0 {
		c.evictionBatch = DefaultEvictionBatch
	}
	if c.evictionBatch > c.maxRoutes {
		return nil, fmt.Errorf("eviction batch %d exceeds max routes %d", c.evictionBatch, c.maxRoutes)
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultCacheTTL
	}

	return c, nil
}

// GetSnapshot returns the route snapshot, from the in-memory copy when it
// is fresh and forceRefresh is false, otherwise from the durable row. A
// missing or corrupt row is replaced with a persisted empty snapshot.
func (c *Cache) GetSnapshot(ctx context.Context, forceRefresh bool) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loadLocked(ctx, forceRefresh)
}

func (c *Cache) loadLocked(ctx context.Context, forceRefresh bool) (*Result, error) {
	if !forceRefresh && c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL {
		observability.RecordSnapshotLoad(string(LoadedFromCache))
		return &Result{
			Snapshot:      c.cached.clone(),
			LoadedFrom:    LoadedFromCache,
			MemoryVersion: c.cachedVersion,
		}, nil
	}

	doc, err := c.backend.Load(ctx, documentKey)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return c.createLocked(ctx)

	case err != nil:
		// Backend down: keep serving the stale in-memory copy for reads
		if c.cached != nil {
			c.logger.Warn().Err(err).Msg("Snapshot load failed, serving cached copy")
			observability.RecordSnapshotLoad(string(LoadedFromCache))
			return &Result{
				Snapshot:      c.cached.clone(),
				LoadedFrom:    LoadedFromCache,
				MemoryVersion: c.cachedVersion,
			}, nil
		}
		return nil, err
	}

	snap, decodeErr := decodeSnapshot(doc.Value)
	if decodeErr != nil {
		// Corrupt rows are recreated, never fatal
		c.logger.Warn().Err(decodeErr).Msg("Snapshot failed validation, recreating")
		return c.createLocked(ctx)
	}

	c.cached = snap
	c.cachedVersion = doc.UpdatedAt
	c.cachedAt = time.Now()
	observability.RecordSnapshotLoad(string(LoadedFromDB))
	observability.SetSnapshotRoutes(len(snap.RouteState))

	return &Result{
		Snapshot:      snap.clone(),
		LoadedFrom:    LoadedFromDB,
		MemoryVersion: doc.UpdatedAt,
	}, nil
}

// createLocked synthesizes an empty snapshot and persists it immediately
func (c *Cache) createLocked(ctx context.Context) (*Result, error) {
	snap := newEmptySnapshot()

	updatedAt, err := c.persistLocked(ctx, snap)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Msg("Created empty route snapshot")
	observability.RecordSnapshotLoad(string(LoadedFromCreated))

	return &Result{
		Snapshot:      snap.clone(),
		LoadedFrom:    LoadedFromCreated,
		MemoryVersion: updatedAt,
	}, nil
}

// persistLocked saves the snapshot and refreshes the in-memory copy
func (c *Cache) persistLocked(ctx context.Context, snap *RouteSnapshot) (time.Time, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	updatedAt, err := c.backend.Save(ctx, documentKey, documentOwner, raw)
	if err != nil {
		return time.Time{}, err
	}

	c.cached = snap
	c.cachedVersion = updatedAt
	c.cachedAt = time.Now()
	observability.SetSnapshotRoutes(len(snap.RouteState))

	return updatedAt, nil
}

// UpsertRouteState records the expected destination for a route, evicting
// the oldest entries in bulk when the map would overflow, and persists
// before refreshing the cache
func (c *Cache) UpsertRouteState(ctx context.Context, routeAttempted, expectedRoute string, opts UpsertOptions) (*RouteSnapshot, error) {
	if routeAttempted == "" {
		return nil, errors.New("route id cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.loadLocked(ctx, true)
	if err != nil {
		return nil, err
	}
	snap := result.Snapshot

	now := time.Now()
	if _, exists := snap.RouteState[routeAttempted]; !exists && len(snap.RouteState) >= c.maxRoutes {
		evicted := c.evictOldest(snap)
		c.logger.Info().
			Int("evicted", evicted).
			Int("remaining", len(snap.RouteState)).
			Msg("Route state batch eviction")
	}

	snap.RouteState[routeAttempted] = &RouteState{
		ExpectedRoute:   expectedRoute,
		LastValidatedAt: now,
		HardConflict:    opts.HardConflict,
	}
	snap.UpdatedAt = now
	snap.UpdatedBy = opts.UpdatedBy
	snap.MemoryVersion = now.UnixMilli()

	if _, err := c.persistLocked(ctx, snap); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("route", routeAttempted).
		Str("expected", expectedRoute).
		Bool("hard_conflict", opts.HardConflict).
		Msg("Route state upserted")

	return snap.clone(), nil
}

// evictOldest removes one eviction batch of routes ranked by
// last_validated_at ascending and returns how many were removed
func (c *Cache) evictOldest(snap *RouteSnapshot) int {
	type aged struct {
		id string
		at time.Time
	}

	routes := make([]aged, 0, len(snap.RouteState))
	for id, state := range snap.RouteState {
		routes = append(routes, aged{id: id, at: state.LastValidatedAt})
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].at.Before(routes[j].at)
	})

	count := c.evictionBatch
	if count > len(routes) {
		count = len(routes)
	}
	for _, route := range routes[:count] {
		delete(snap.RouteState, route.id)
	}

	observability.RecordSnapshotEviction(count)
	return count
}
