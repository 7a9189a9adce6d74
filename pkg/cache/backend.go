package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound indicates the requested entry or document does not exist
	ErrNotFound = errors.New("cache: not found")
	// ErrUnavailable indicates the durable backend could not be reached
	ErrUnavailable = errors.New("cache: backend unavailable")
)

// Document is one durably stored record
type Document struct {
	Key       string          `json:"key"`
	Owner     string          `json:"owner"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Backend is the durable store behind the in-process caches. Save returns
// the row's new modification timestamp, which callers treat as the
// externally visible version marker.
type Backend interface {
	Save(ctx context.Context, key, owner string, value json.RawMessage) (time.Time, error)
	Load(ctx context.Context, key string) (*Document, error)
	LoadAll(ctx context.Context, owner string) ([]*Document, error)
	DeleteAll(ctx context.Context, owner string) (int, error)
}

// MemoryBackend keeps documents in a map. It backs memory-only deployments
// and tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]*Document)}
}

func (b *MemoryBackend) Save(ctx context.Context, key, owner string, value json.RawMessage) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.docs[key] = &Document{
		Key:       key,
		Owner:     owner,
		Value:     append(json.RawMessage(nil), value...),
		UpdatedAt: now,
	}
	return now, nil
}

func (b *MemoryBackend) Load(ctx context.Context, key string) (*Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (b *MemoryBackend) LoadAll(ctx context.Context, owner string) ([]*Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var docs []*Document
	for _, doc := range b.docs {
		if doc.Owner == owner {
			copied := *doc
			docs = append(docs, &copied)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return docs, nil
}

func (b *MemoryBackend) DeleteAll(ctx context.Context, owner string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for key, doc := range b.docs {
		if doc.Owner == owner {
			delete(b.docs, key)
			count++
		}
	}
	return count, nil
}
