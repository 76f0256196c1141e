package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
)

var _ core.RecordStore = (*MemoryStore)(nil)

// MemoryStore is a volatile RecordStore keeping records in a process local
// map. It is safe for concurrent access. Data is copied on write and read so
// callers never share buffers with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[core.RecordKind]map[string]core.Record
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[core.RecordKind]map[string]core.Record),
		now:     time.Now,
	}
}

// Put stores (or overwrites) a record.
func (s *MemoryStore) Put(_ context.Context, kind core.RecordKind, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[kind]
	if !ok {
		m = make(map[string]core.Record)
		s.records[kind] = m
	}
	m[id] = core.Record{Kind: kind, ID: id, Data: clone(data), Updated: s.now().UTC()}
	return nil
}

// Get returns a copy of the record or core.ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, kind core.RecordKind, id string) (*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	rec.Data = clone(rec.Data)
	return &rec, nil
}

// List returns every record of kind sorted by id.
func (s *MemoryStore) List(_ context.Context, kind core.RecordKind) ([]core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Record, 0, len(s.records[kind]))
	for _, rec := range s.records[kind] {
		rec.Data = clone(rec.Data)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes the record or returns core.ErrNotFound.
func (s *MemoryStore) Delete(_ context.Context, kind core.RecordKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[kind][id]; !ok {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	delete(s.records[kind], id)
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
