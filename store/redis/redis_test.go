package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/internal/testutil"
	"github.com/hupe1980/flowmesh/internal/util"
)

// Requires a reachable server: FLOWMESH_REDIS_ADDR=localhost:6379 go test ./store/redis
func TestStore(t *testing.T) {
	addr := os.Getenv("FLOWMESH_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLOWMESH_REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := "flowmesh-test-" + util.NewID()
	s, err := Open(ctx, func(o *Options) {
		o.Addr = addr
		o.Prefix = prefix
	})
	require.NoError(t, err)
	defer func() {
		keys, _ := s.client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		s.Close()
	}()

	testutil.RecordStoreSuite(t, s)
}

func TestKeys(t *testing.T) {
	s := New(nil, "")
	require.Equal(t, "flowmesh:flow", s.indexKey("flow"))
	require.Equal(t, "flowmesh:flow:f1", s.recordKey("flow", "f1"))
}
