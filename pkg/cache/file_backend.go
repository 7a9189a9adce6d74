package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileBackend stores one JSON file per owner with atomic temp+rename
// writes. An fsnotify watcher reports files rewritten by other processes
// so callers can drop stale cached copies.
type FileBackend struct {
	dir      string
	logger   zerolog.Logger
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange func(owner string)
	// selfWrites suppresses watcher events caused by our own saves
	selfWrites map[string]time.Time
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewFileBackend creates a file-backed document store rooted at dir
func NewFileBackend(dir string, logger zerolog.Logger) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}

	b := &FileBackend{
		dir:        dir,
		logger:     logger,
		selfWrites: make(map[string]time.Time),
		done:       make(chan struct{}),
	}

	logger.Info().Str("dir", dir).Msg("File document backend initialized")
	return b, nil
}

// WatchChanges starts reporting externally rewritten owner files to fn.
// Events triggered by this process's own saves are filtered out.
func (b *FileBackend) WatchChanges(fn func(owner string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	b.mu.Lock()
	b.watcher = watcher
	b.onChange = fn
	b.mu.Unlock()

	b.wg.Add(1)
	go b.watchLoop(watcher)

	return nil
}

func (b *FileBackend) watchLoop(watcher *fsnotify.Watcher) {
	defer b.wg.Done()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if b.isSelfWrite(event.Name) {
				continue
			}
			owner := b.ownerOfFile(event.Name)
			b.logger.Debug().Str("owner", owner).Msg("Document file changed externally")
			b.mu.Lock()
			fn := b.onChange
			b.mu.Unlock()
			if fn != nil {
				fn(owner)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn().Err(err).Msg("Watcher error")

		case <-b.done:
			return
		}
	}
}

func (b *FileBackend) isSelfWrite(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	at, ok := b.selfWrites[path]
	return ok && time.Since(at) < time.Second
}

func (b *FileBackend) markSelfWrite(path string) {
	b.selfWrites[path] = time.Now()
}

// ownerOfFile recovers the owner from the documents inside the file; the
// filename is sanitized and cannot round-trip owners with special runes
func (b *FileBackend) ownerOfFile(path string) string {
	b.mu.Lock()
	docs, err := b.readOwnerFile(path)
	b.mu.Unlock()
	if err == nil {
		for _, doc := range docs {
			return doc.Owner
		}
	}
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

func (b *FileBackend) ownerPath(owner string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, owner)
	return filepath.Join(b.dir, safe+".json")
}

func (b *FileBackend) readOwnerFile(path string) (map[string]*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]*Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	docs := make(map[string]*Document)
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse document file: %w", err)
	}
	return docs, nil
}

// writeOwnerFile performs an atomic write using temp file + rename
func (b *FileBackend) writeOwnerFile(path string, docs map[string]*Document) error {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	b.markSelfWrite(path)
	return nil
}

func (b *FileBackend) Save(ctx context.Context, key, owner string, value json.RawMessage) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.ownerPath(owner)
	docs, err := b.readOwnerFile(path)
	if err != nil {
		return time.Time{}, err
	}

	now := time.Now()
	docs[key] = &Document{
		Key:       key,
		Owner:     owner,
		Value:     append(json.RawMessage(nil), value...),
		UpdatedAt: now,
	}

	if err := b.writeOwnerFile(path, docs); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

func (b *FileBackend) Load(ctx context.Context, key string) (*Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(b.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, path := range matches {
		docs, err := b.readOwnerFile(path)
		if err != nil {
			b.logger.Warn().Err(err).Str("file", path).Msg("Skipping unreadable document file")
			continue
		}
		if doc, ok := docs[key]; ok {
			return doc, nil
		}
	}

	return nil, ErrNotFound
}

func (b *FileBackend) LoadAll(ctx context.Context, owner string) ([]*Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	docs, err := b.readOwnerFile(b.ownerPath(owner))
	if err != nil {
		return nil, err
	}

	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc)
	}
	return out, nil
}

func (b *FileBackend) DeleteAll(ctx context.Context, owner string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.ownerPath(owner)
	docs, err := b.readOwnerFile(path)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b.markSelfWrite(path)

	return len(docs), nil
}

// Close stops the change watcher
func (b *FileBackend) Close() error {
	b.mu.Lock()
	watcher := b.watcher
	b.watcher = nil
	b.mu.Unlock()

	if watcher != nil {
		close(b.done)
		err := watcher.Close()
		b.wg.Wait()
		return err
	}
	return nil
}
