// Package sqlite implements core.RecordStore on an embedded SQLite database
// using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/flowmesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind    TEXT NOT NULL,
	id      TEXT NOT NULL,
	data    BLOB NOT NULL,
	updated INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
)`

var _ core.RecordStore = (*Store)(nil)

// Store persists records in a single table keyed by (kind, id).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" keeps
// the database in memory for the lifetime of the store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, kind core.RecordKind, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (kind, id, data, updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET data = excluded.data, updated = excluded.updated`,
		string(kind), id, data, s.now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, id, err)
	}
	return nil
}

// Get returns the record or core.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind core.RecordKind, id string) (*core.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data, updated FROM records WHERE kind = ? AND id = ?`, string(kind), id)

	rec := core.Record{Kind: kind, ID: id}
	var updated int64
	if err := row.Scan(&rec.Data, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	rec.Updated = time.Unix(0, updated).UTC()
	return &rec, nil
}

// List returns every record of kind ordered by id.
func (s *Store) List(ctx context.Context, kind core.RecordKind) ([]core.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data, updated FROM records WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []core.Record{}
	for rows.Next() {
		rec := core.Record{Kind: kind}
		var updated int64
		if err := rows.Scan(&rec.ID, &rec.Data, &updated); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		rec.Updated = time.Unix(0, updated).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// Delete removes the record or returns core.ErrNotFound.
func (s *Store) Delete(ctx context.Context, kind core.RecordKind, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}
