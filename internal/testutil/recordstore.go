package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

// RecordStoreSuite checks the core.RecordStore contract against s, which
// must start empty.
func RecordStoreSuite(t *testing.T, s core.RecordStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := s.Get(ctx, core.KindFlow, "nope")
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, core.KindFlow, "nope"), core.ErrNotFound)

		recs, err := s.List(ctx, core.KindFlow)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("put get overwrite", func(t *testing.T) {
		data := []byte(`{"name":"a"}`)
		require.NoError(t, s.Put(ctx, core.KindFlow, "f1", data))
		data[2] = 'X'

		rec, err := s.Get(ctx, core.KindFlow, "f1")
		require.NoError(t, err)
		assert.Equal(t, core.KindFlow, rec.Kind)
		assert.Equal(t, "f1", rec.ID)
		assert.JSONEq(t, `{"name":"a"}`, string(rec.Data))
		assert.False(t, rec.Updated.IsZero())

		require.NoError(t, s.Put(ctx, core.KindFlow, "f1", []byte(`{"name":"b"}`)))
		rec, err = s.Get(ctx, core.KindFlow, "f1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"b"}`, string(rec.Data))
	})

	t.Run("list is per kind and ordered", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, core.KindFlow, "f0", []byte(`{}`)))
		require.NoError(t, s.Put(ctx, core.KindAgent, "f9", []byte(`{}`)))

		recs, err := s.List(ctx, core.KindFlow)
		require.NoError(t, err)
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		assert.Equal(t, []string{"f0", "f1"}, ids)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, core.KindFlow, "f1"))
		_, err := s.Get(ctx, core.KindFlow, "f1")
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = s.Get(ctx, core.KindAgent, "f9")
		assert.NoError(t, err)
	})
}
