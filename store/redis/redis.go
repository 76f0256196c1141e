// Package redis implements core.RecordStore on Redis. Each record is a JSON
// envelope under "<prefix>:<kind>:<id>" and every kind keeps a set of its
// ids under "<prefix>:<kind>".
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/flowmesh/core"
)

// DefaultPrefix namespaces flowmesh keys.
const DefaultPrefix = "flowmesh"

var _ core.RecordStore = (*Store)(nil)

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to DefaultPrefix.
	Prefix      string
	DialTimeout time.Duration
}

// Store persists records in Redis.
type Store struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// Open connects and verifies the server answers PING.
func Open(ctx context.Context, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Addr: "localhost:6379", Prefix: DefaultPrefix, DialTimeout: 5 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return New(client, opts.Prefix), nil
}

// New wraps an existing client.
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

type envelope struct {
	Data    []byte    `json:"data"`
	Updated time.Time `json:"updated"`
}

func (s *Store) indexKey(kind core.RecordKind) string {
	return s.prefix + ":" + string(kind)
}

func (s *Store) recordKey(kind core.RecordKind, id string) string {
	return s.prefix + ":" + string(kind) + ":" + id
}

// Put stores the record and indexes its id.
func (s *Store) Put(ctx context.Context, kind core.RecordKind, id string, data []byte) error {
	payload, err := json.Marshal(envelope{Data: data, Updated: s.now().UTC()})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.recordKey(kind, id), payload, 0)
		p.SAdd(ctx, s.indexKey(kind), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, id, err)
	}
	return nil
}

// Get returns the record or core.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind core.RecordKind, id string) (*core.Record, error) {
	val, err := s.client.Get(ctx, s.recordKey(kind, id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return decode(kind, id, val)
}

func decode(kind core.RecordKind, id string, val []byte) (*core.Record, error) {
	var env envelope
	if err := json.Unmarshal(val, &env); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return &core.Record{Kind: kind, ID: id, Data: env.Data, Updated: env.Updated}, nil
}

// List returns every indexed record of kind ordered by id. Ids whose record
// vanished are skipped.
func (s *Store) List(ctx context.Context, kind core.RecordKind) ([]core.Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	sort.Strings(ids)

	out := make([]core.Record, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(kind, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decode(kind, ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Delete removes the record and its index entry.
func (s *Store) Delete(ctx context.Context, kind core.RecordKind, id string) error {
	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		del = p.Del(ctx, s.recordKey(kind, id))
		p.SRem(ctx, s.indexKey(kind), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}
