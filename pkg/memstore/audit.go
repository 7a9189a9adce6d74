package memstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLog appends one forensic line per mutating operation. It is never
// read programmatically; parse failures on the write path are reported to
// the caller but the primary operation must not depend on them.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewAuditLog opens the audit file in append-only mode
func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &AuditLog{file: file, path: path}, nil
}

// RecordWrite appends a write line
func (a *AuditLog) RecordWrite(at time.Time, key string, version int, tag string) error {
	line := fmt.Sprintf("[%s] write key=%s version=%d tag=%s\n",
		at.Format(time.RFC3339), key, version, tag)
	return a.appendLine(line)
}

// RecordRollback appends a rollback line
func (a *AuditLog) RecordRollback(at time.Time, key string, version int) error {
	line := fmt.Sprintf("[%s] rollback key=%s to version=%d\n",
		at.Format(time.RFC3339), key, version)
	return a.appendLine(line)
}

func (a *AuditLog) appendLine(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append audit line: %w", err)
	}
	return nil
}

// Path returns the audit file path
func (a *AuditLog) Path() string {
	return a.path
}

// Size returns the current audit file size in bytes
func (a *AuditLog) Size() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := a.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the audit file
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
