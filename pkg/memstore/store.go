package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/mnemo/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound indicates the requested key or version does not exist
	ErrNotFound = errors.New("memstore: not found")
	// ErrUnavailable indicates the durable backend could not be reached
	ErrUnavailable = errors.New("memstore: backend unavailable")
)

// Value is one versioned memory payload
type Value struct {
	Fields  map[string]any `json:"fields"`
	Deleted bool           `json:"deleted,omitempty"`
}

// VersionInfo describes one entry in a key's history
type VersionInfo struct {
	Version   int       `json:"version"`
	WrittenAt time.Time `json:"written_at"`
	Tag       string    `json:"tag,omitempty"`
}

// Record is a fully loaded versioned row
type Record struct {
	Key       string    `json:"key"`
	Version   int       `json:"version"`
	Value     Value     `json:"value"`
	Tag       string    `json:"tag,omitempty"`
	WrittenAt time.Time `json:"written_at"`
}

// Status summarizes store contents
type Status struct {
	TotalKeys     int `json:"total_keys"`
	TotalVersions int `json:"total_versions"`
}

// Store is the append-only versioned memory store
type Store struct {
	db     *sql.DB
	audit  *AuditLog
	logger zerolog.Logger
}

// Config holds store configuration
type Config struct {
	DBPath    string
	AuditPath string // empty disables the audit log
	Logger    zerolog.Logger
}

// New creates a new versioned store
func New(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Immediate transactions take the write lock at BEGIN, which keeps
	// version allocation serialized across concurrent writers.
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.AuditPath != "" {
		audit, err := NewAuditLog(cfg.AuditPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		s.audit = audit
	}

	s.logger.Info().Str("db", cfg.DBPath).Msg("Versioned store initialized")
	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memory_versions (
			key TEXT NOT NULL,
			version INTEGER NOT NULL,
			value TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			tag TEXT NOT NULL DEFAULT '',
			written_at INTEGER NOT NULL,
			PRIMARY KEY (key, version)
		);
		CREATE INDEX IF NOT EXISTS idx_memory_versions_key ON memory_versions(key);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Write appends a new version for key and returns the assigned version number
func (s *Store) Write(ctx context.Context, key string, fields map[string]any, tag string) (int, error) {
	version, err := s.append(ctx, key, Value{Fields: fields}, tag)
	if err != nil {
		return 0, err
	}

	if s.audit != nil {
		if auditErr := s.audit.RecordWrite(time.Now(), key, version, tag); auditErr != nil {
			s.logger.Warn().Err(auditErr).Str("key", key).Msg("Audit write failed")
		}
	}

	return version, nil
}

// Clear appends a tombstone version, preserving history
func (s *Store) Clear(ctx context.Context, key string) (int, error) {
	version, err := s.append(ctx, key, Value{Deleted: true}, "clear")
	if err != nil {
		return 0, err
	}

	if s.audit != nil {
		if auditErr := s.audit.RecordWrite(time.Now(), key, version, "clear"); auditErr != nil {
			s.logger.Warn().Err(auditErr).Str("key", key).Msg("Audit write failed")
		}
	}

	return version, nil
}

// Rollback re-writes the value of a prior version as a new version
func (s *Store) Rollback(ctx context.Context, key string, version int) (int, error) {
	target, err := s.ReadVersion(ctx, key, version)
	if err != nil {
		return 0, err
	}

	tag := fmt.Sprintf("rollback-to-%d", version)
	newVersion, err := s.append(ctx, key, target, tag)
	if err != nil {
		return 0, err
	}

	if s.audit != nil {
		if auditErr := s.audit.RecordRollback(time.Now(), key, version); auditErr != nil {
			s.logger.Warn().Err(auditErr).Str("key", key).Msg("Audit write failed")
		}
	}

	s.logger.Info().
		Str("key", key).
		Int("from_version", version).
		Int("new_version", newVersion).
		Msg("Rolled back")

	return newVersion, nil
}

// append allocates the next version and inserts the row in one transaction
func (s *Store) append(ctx context.Context, key string, value Value, tag string) (int, error) {
	if key == "" {
		return 0, errors.New("key cannot be empty")
	}

	start := time.Now()

	payload, err := json.Marshal(value.Fields)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal value: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM memory_versions WHERE key = ?", key,
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	version := current + 1
	deleted := 0
	if value.Deleted {
		deleted = 1
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO memory_versions (key, version, value, deleted, tag, written_at) VALUES (?, ?, ?, ?, ?, ?)",
		key, version, string(payload), deleted, tag, time.Now().UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	kind := "write"
	if value.Deleted {
		kind = "clear"
	}
	observability.RecordStoreWrite(kind, time.Since(start))

	s.logger.Debug().
		Str("key", key).
		Int("version", version).
		Str("tag", tag).
		Msg("Version written")

	return version, nil
}

// ListVersions returns the ordered history for a key
func (s *Store) ListVersions(ctx context.Context, key string) ([]VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version, written_at, tag FROM memory_versions WHERE key = ? ORDER BY version ASC", key,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var versions []VersionInfo
	for rows.Next() {
		var info VersionInfo
		var writtenAt int64
		if err := rows.Scan(&info.Version, &writtenAt, &info.Tag); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		info.WrittenAt = time.UnixMilli(writtenAt)
		versions = append(versions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return versions, nil
}

// ReadVersion returns the value stored at an exact version
func (s *Store) ReadVersion(ctx context.Context, key string, version int) (Value, error) {
	start := time.Now()
	defer func() { observability.RecordStoreRead(time.Since(start)) }()

	var payload string
	var deleted int
	err := s.db.QueryRowContext(ctx,
		"SELECT value, deleted FROM memory_versions WHERE key = ? AND version = ?", key, version,
	).Scan(&payload, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, fmt.Errorf("%w: key %q version %d", ErrNotFound, key, version)
	}
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return decodeValue(payload, deleted)
}

// Latest returns the newest version for a key. A tombstoned key reads as
// not found; the latest version's deleted flag is authoritative.
func (s *Store) Latest(ctx context.Context, key string) (*Record, error) {
	var rec Record
	var payload string
	var deleted int
	var writtenAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT key, version, value, deleted, tag, written_at
		 FROM memory_versions WHERE key = ? ORDER BY version DESC LIMIT 1`, key,
	).Scan(&rec.Key, &rec.Version, &payload, &deleted, &rec.Tag, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if deleted != 0 {
		return nil, fmt.Errorf("%w: key %q is cleared", ErrNotFound, key)
	}

	value, err := decodeValue(payload, deleted)
	if err != nil {
		return nil, err
	}
	rec.Value = value
	rec.WrittenAt = time.UnixMilli(writtenAt)

	return &rec, nil
}

// Status returns store totals
func (s *Store) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT key), COUNT(*) FROM memory_versions",
	).Scan(&st.TotalKeys, &st.TotalVersions); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	observability.SetStoreVersions(st.TotalVersions)
	return st, nil
}

// AuditSize returns the audit file size in bytes, or zero when the audit
// log is disabled
func (s *Store) AuditSize() (int64, error) {
	if s.audit == nil {
		return 0, nil
	}
	return s.audit.Size()
}

// Close closes the store and its audit log
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing versioned store")

	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close audit log")
		}
	}

	return s.db.Close()
}

func decodeValue(payload string, deleted int) (Value, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return Value{}, fmt.Errorf("failed to unmarshal stored value: %w", err)
	}
	return Value{Fields: fields, Deleted: deleted != 0}, nil
}
