// Package store persists agent, chat and flow definitions.
//
// Backends implement core.RecordStore over opaque JSON documents:
//
//   - MemoryStore (this package): process local, for tests and demos
//   - sqlite.Store: a single embedded database file
//   - redis.Store: shared storage for several flowmesh processes
//
// Repository adds typed JSON encoding on top of any backend.
package store
