// Package core holds the small set of domain contracts shared by every other
// flowmesh package:
//
//   - Entry / Role: the {role, content} pairs exchanged with completion backends
//   - the error taxonomy (ErrToolNotEnabled, ErrCompletion, ErrLoopLimitExceeded, ...)
//   - Limiter: the counter used by loop guards
//   - RecordStore: the opaque persistence contract for agents, chats and flows
//
// Concrete behavior (message storage, tool dispatch, scheduling, persistence
// backends) lives in dedicated packages that depend on core, never the other way round.
package core
