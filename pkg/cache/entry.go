package cache

import (
	"fmt"
	"time"
)

// Category classifies cached memory entries
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryPreference Category = "preference"
	CategoryEvent      Category = "event"
	CategoryTask       Category = "task"
	CategoryContext    Category = "context"
)

// ValidCategory reports whether c is a known category
func ValidCategory(c Category) bool {
	switch c {
	case CategoryFact, CategoryPreference, CategoryEvent, CategoryTask, CategoryContext:
		return true
	}
	return false
}

// Entry is one cached memory record
type Entry struct {
	ID         string        `json:"id"`
	Owner      string        `json:"owner"`
	Session    string        `json:"session,omitempty"`
	Category   Category      `json:"category"`
	Key        string        `json:"key"`
	Value      any           `json:"value"`
	Tags       []string      `json:"tags,omitempty"`
	Importance int           `json:"importance,omitempty"`
	Source     string        `json:"source,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	TTL        time.Duration `json:"ttl,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
// A zero TTL means the entry never expires.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// StoreOptions carries optional attributes for Store
type StoreOptions struct {
	Tags       []string
	TTL        time.Duration // zero uses the cache default
	Importance int
	Source     string
}

func (e *Entry) validate() error {
	if e.Owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if e.Key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if !ValidCategory(e.Category) {
		return fmt.Errorf("unknown category %q", e.Category)
	}
	return nil
}
