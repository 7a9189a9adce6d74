package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main mnemo configuration
type Config struct {
	// Versioned memory store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// In-process indexed cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Route snapshot cache
	Snapshot SnapshotConfig `json:"snapshot" mapstructure:"snapshot"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Maintenance scheduling
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// MetricsAddr exposes Prometheus metrics when set, e.g. ":9464"
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`

	// Data directory for databases and audit logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// StoreConfig holds versioned store configuration
type StoreConfig struct {
	DBPath    string `json:"db_path" mapstructure:"db_path"`
	AuditPath string `json:"audit_path" mapstructure:"audit_path"`
}

// CacheConfig holds indexed cache configuration
type CacheConfig struct {
	// MaxEntries bounds the in-memory entry count before LRU eviction
	MaxEntries int `json:"max_entries" mapstructure:"max_entries"`
	// DefaultTTL applies to entries stored without an explicit TTL; zero means no expiry
	DefaultTTL time.Duration `json:"default_ttl" mapstructure:"default_ttl"`
	// Backend selects the durable backend: sqlite, file, or memory
	Backend string `json:"backend" mapstructure:"backend"`
	// BackendPath is the database or directory path for durable backends
	BackendPath string `json:"backend_path" mapstructure:"backend_path"`
}

// SnapshotConfig holds route snapshot cache configuration
type SnapshotConfig struct {
	// MaxRoutes bounds the route_state map size
	MaxRoutes int `json:"max_routes" mapstructure:"max_routes"`
	// EvictionBatch is how many of the oldest routes are dropped per overflow
	EvictionBatch int `json:"eviction_batch" mapstructure:"eviction_batch"`
	// CacheTTL is how long the in-memory snapshot copy is trusted
	CacheTTL time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// MaintenanceConfig holds scheduled maintenance configuration
type MaintenanceConfig struct {
	// CompactionSchedule is a cron expression for the expired-entry sweep; empty disables it
	CompactionSchedule string `json:"compaction_schedule" mapstructure:"compaction_schedule"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DBPath:    "",
			AuditPath: "",
		},
		Cache: CacheConfig{
			MaxEntries:  1000,
			DefaultTTL:  0,
			Backend:     "sqlite",
			BackendPath: "",
		},
		Snapshot: SnapshotConfig{
			MaxRoutes:     5000,
			EvictionBatch: 500,
			CacheTTL:      5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Maintenance: MaintenanceConfig{
			CompactionSchedule: "*/10 * * * *",
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache.default_ttl cannot be negative")
	}
	switch c.Cache.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("cache.backend must be one of sqlite, file, memory; got %q", c.Cache.Backend)
	}
	if c.Snapshot.MaxRoutes <= 0 {
		return fmt.Errorf("snapshot.max_routes must be positive, got %d", c.Snapshot.MaxRoutes)
	}
	if c.Snapshot.EvictionBatch <= 0 {
		return fmt.Errorf("snapshot.eviction_batch must be positive, got %d", c.Snapshot.EvictionBatch)
	}
	if c.Snapshot.EvictionBatch > c.Snapshot.MaxRoutes {
		return fmt.Errorf("snapshot.eviction_batch (%d) cannot exceed snapshot.max_routes (%d)",
			c.Snapshot.EvictionBatch, c.Snapshot.MaxRoutes)
	}
	if c.Snapshot.CacheTTL < 0 {
		return fmt.Errorf("snapshot.cache_ttl cannot be negative")
	}
	return nil
}
