// Package snapshot maintains the route-dispatch validation snapshot: one
// composite document cached in memory with a TTL and reconciled against
// the durable row's own modification timestamp.
//
// Invariants:
// - The route_state map never exceeds the configured maximum; overflow
//   triggers a batch eviction of the oldest entries.
// - The reported memory version is always the durable row's updated_at,
//   never the document's internal field.
// - A missing or corrupt durable row is recreated as an empty snapshot,
//   never surfaced as a fatal error.
package snapshot
