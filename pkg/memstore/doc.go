// Package memstore persists an append-only, per-key version history of
// structured memory values.
//
// Invariants:
// - Versions for a key form a contiguous sequence starting at 1.
// - Version allocation and insertion happen in one transaction, so
//   concurrent writers never share a (key, version) pair.
// - History is never truncated; clears are tombstone writes.
// - Every write and rollback appends a line to the audit log, best effort.
//
// Usage:
//
//	store, _ := memstore.New(memstore.Config{DBPath: "/data/memstore.db", AuditPath: "/data/audit.log"})
//	defer store.Close()
//	v, _ := store.Write(ctx, "user:1", map[string]any{"value": "A"}, "")
//	_ = v
package memstore
