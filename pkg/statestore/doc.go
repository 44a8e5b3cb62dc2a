// Package statestore defines the key-value interface that holds all
// coordination state (claims cache, protocol state, channel assignments,
// active workers, counters).
//
// # Scoping
//
// Keys are plain strings. Project isolation is an explicit key prefix added
// by [Scoped]; the [FileStore] additionally shards by that prefix so each
// project's state lives in one small, frequently rewritten file.
//
// # Expiry
//
// There are no timers. Every record carries UpdatedAt and readers pass a
// notBefore cutoff to [Store.List]; [Fresh] and [Cutoff] are the pure helpers
// used to compute it. Expired records are ignored, not deleted, until [Prune]
// runs.
//
// # Implementations
//
//   - [FileStore]: JSON files under a temp directory. The default, and where
//     the claims cache always lives.
//   - [SQLStore]: the kv table in the SQLite state database, used when the
//     state_store setting is sqlite.
//   - [MemStore]: process-local map, used by tests and embedded callers.
package statestore
