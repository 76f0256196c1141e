package core

import (
	"context"
	"time"
)

// RecordKind partitions the record namespace.
type RecordKind string

const (
	KindAgent RecordKind = "agent"
	KindChat  RecordKind = "chat"
	KindFlow  RecordKind = "flow"
)

// Record is an opaque persisted definition. Data is JSON produced by the
// owning package; stores never interpret it.
type Record struct {
	Kind    RecordKind `json:"kind"`
	ID      string     `json:"id"`
	Data    []byte     `json:"data"`
	Updated time.Time  `json:"updated"`
}

// RecordStore persists agent, chat and flow definitions. Implementations
// must return ErrNotFound (possibly wrapped) for missing records and must be
// safe for concurrent use.
type RecordStore interface {
	Put(ctx context.Context, kind RecordKind, id string, data []byte) error
	Get(ctx context.Context, kind RecordKind, id string) (*Record, error)
	List(ctx context.Context, kind RecordKind) ([]Record, error)
	Delete(ctx context.Context, kind RecordKind, id string) error
}
