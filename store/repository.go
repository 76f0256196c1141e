package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
)

// Repository stores values of T as JSON records of one kind.
type Repository[T any] struct {
	store core.RecordStore
	kind  core.RecordKind
}

// NewRepository creates a typed view over store.
func NewRepository[T any](store core.RecordStore, kind core.RecordKind) *Repository[T] {
	return &Repository[T]{store: store, kind: kind}
}

// Kind returns the record kind managed by the repository.
func (r *Repository[T]) Kind() core.RecordKind { return r.kind }

// Save encodes v and stores it under id.
func (r *Repository[T]) Save(ctx context.Context, id string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.kind, id, err)
	}
	return r.store.Put(ctx, r.kind, id, data)
}

// Load decodes the record stored under id.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, error) {
	var v T
	rec, err := r.store.Get(ctx, r.kind, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", r.kind, id, err)
	}
	return v, nil
}

// List decodes every record of the repository's kind.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	recs, err := r.store.List(ctx, r.kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", r.kind, rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes the record stored under id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, r.kind, id)
}
