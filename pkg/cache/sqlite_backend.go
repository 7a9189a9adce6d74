package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteBackend stores documents in a single SQLite table keyed by
// document key, with the row's updated_at column as the modification marker.
type SQLiteBackend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteBackend opens or creates the documents database
func NewSQLiteBackend(dbPath string, logger zerolog.Logger) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("db", dbPath).Msg("Document backend initialized")
	return &SQLiteBackend{db: db, logger: logger}, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, key, owner string, value json.RawMessage) (time.Time, error) {
	now := time.Now()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO documents (key, owner, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET owner = excluded.owner, value = excluded.value, updated_at = excluded.updated_at`,
		key, owner, string(value), now.UnixMilli(),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.UnixMilli(now.UnixMilli()), nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) (*Document, error) {
	doc := &Document{Key: key}
	var value string
	var updatedAt int64
	err := b.db.QueryRowContext(ctx,
		"SELECT owner, value, updated_at FROM documents WHERE key = ?", key,
	).Scan(&doc.Owner, &value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	doc.Value = json.RawMessage(value)
	doc.UpdatedAt = time.UnixMilli(updatedAt)
	return doc, nil
}

func (b *SQLiteBackend) LoadAll(ctx context.Context, owner string) ([]*Document, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT key, value, updated_at FROM documents WHERE owner = ? ORDER BY updated_at DESC", owner,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{Owner: owner}
		var value string
		var updatedAt int64
		if err := rows.Scan(&doc.Key, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc.Value = json.RawMessage(value)
		doc.UpdatedAt = time.UnixMilli(updatedAt)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return docs, nil
}

func (b *SQLiteBackend) DeleteAll(ctx context.Context, owner string) (int, error) {
	result, err := b.db.ExecContext(ctx, "DELETE FROM documents WHERE owner = ?", owner)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Close closes the underlying database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
