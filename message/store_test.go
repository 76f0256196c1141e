package message

import (
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/flowmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs() func(o *StoreOptions) {
	n := 0
	return func(o *StoreOptions) {
		o.IDFunc = func() string {
			n++
			return fmt.Sprintf("m%d", n)
		}
	}
}

func assertInvariants(t *testing.T, s *Store) {
	t.Helper()
	for _, m := range s.Messages() {
		require.NoError(t, m.Validate())
	}
}

func TestStore_AddMessage(t *testing.T) {
	s := NewStore(seqIDs())
	id := s.AddMessage(core.RoleUser, "hello")
	assert.Equal(t, "m1", id)

	m, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, []string{"hello"}, m.Alternatives)
	assert.Equal(t, 0, m.ActiveAlternative)
	assert.Equal(t, "hello", m.Content())
	assert.Equal(t, uint64(1), s.Appended())
	assertInvariants(t, s)
}

func TestStore_AddAlternative(t *testing.T) {
	s := NewStore(seqIDs())
	u1 := s.AddMessage(core.RoleUser, "q1")
	a1 := s.AddMessage(core.RoleAssistant, "a1")
	u2 := s.AddMessage(core.RoleUser, "q2")
	s.AddMessage(core.RoleAssistant, "a2")

	before, _ := s.Get(u1)

	alt, err := s.AddAlternative(u2, "q2 again")
	require.NoError(t, err)
	assert.Equal(t, Alternative{Index: 1, Count: 2}, alt)
	assert.Equal(t, "2/2", alt.String())

	// Everything after u2 is gone, nothing before it changed.
	assert.Equal(t, 3, s.Len())
	after, _ := s.Get(u1)
	assert.Equal(t, before, after)
	a1Msg, _ := s.Get(a1)
	assert.Equal(t, []string{"a1"}, a1Msg.Alternatives)

	assert.Equal(t, []core.Entry{
		{Role: core.RoleUser, Content: "q1"},
		{Role: core.RoleAssistant, Content: "a1"},
		{Role: core.RoleUser, Content: "q2 again"},
	}, s.ActiveSequence())

	alt, err = s.AddAlternative(u2, "third")
	require.NoError(t, err)
	assert.Equal(t, "3/3", alt.String())
	assertInvariants(t, s)
}

func TestStore_SequenceBefore(t *testing.T) {
	s := NewStore()
	u1 := s.AddMessage(core.RoleUser, "q1")
	a1 := s.AddMessage(core.RoleAssistant, "a1")

	seq, err := s.SequenceBefore(a1)
	require.NoError(t, err)
	assert.Equal(t, []core.Entry{{Role: core.RoleUser, Content: "q1"}}, seq)

	seq, err = s.SequenceBefore(u1)
	require.NoError(t, err)
	assert.Empty(t, seq)

	_, err = s.SequenceBefore("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_AddAlternativeGrowsByOne(t *testing.T) {
	s := NewStore()
	id := s.AddMessage(core.RoleAssistant, "v0")
	for i := 1; i <= 5; i++ {
		_, err := s.AddAlternative(id, fmt.Sprintf("v%d", i))
		require.NoError(t, err)
		m, _ := s.Get(id)
		assert.Len(t, m.Alternatives, i+1)
		assert.Equal(t, i, m.ActiveAlternative)
	}
}

func TestStore_SetActiveAlternative(t *testing.T) {
	s := NewStore(seqIDs())
	id := s.AddMessage(core.RoleUser, "a")
	_, err := s.AddAlternative(id, "b")
	require.NoError(t, err)
	next := s.AddMessage(core.RoleAssistant, "reply")

	tests := []struct {
		name    string
		index   int
		wantErr error
		want    string
	}{
		{"first", 0, nil, "a"},
		{"second", 1, nil, "b"},
		{"negative", -1, core.ErrOutOfRange, "b"},
		{"past end", 2, core.ErrOutOfRange, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetActiveAlternative(id, tt.index)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			m, _ := s.Get(id)
			assert.Equal(t, tt.want, m.Content())
		})
	}

	// Switching does not truncate.
	_, ok := s.Get(next)
	assert.True(t, ok)
	assertInvariants(t, s)
}

func TestStore_UnknownMessage(t *testing.T) {
	s := NewStore()
	_, err := s.AddAlternative("nope", "x")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.SetActiveAlternative("nope", 0), core.ErrNotFound)
}

func TestStore_LastAndClear(t *testing.T) {
	s := NewStore()
	_, ok := s.Last()
	assert.False(t, ok)

	s.AddMessage(core.RoleUser, "u")
	s.AddMessage(core.RoleAssistant, "a")
	s.AddMessage(core.RoleTool, "t")

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, core.RoleTool, last.Role)

	asst, ok := s.LastByRole(core.RoleAssistant)
	require.True(t, ok)
	assert.Equal(t, "a", asst.Content())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(3), s.Appended())
}

func TestStore_MessagesAreCopies(t *testing.T) {
	s := NewStore()
	id := s.AddMessage(core.RoleUser, "orig")
	msgs := s.Messages()
	msgs[0].Alternatives[0] = "mutated"

	m, _ := s.Get(id)
	assert.Equal(t, "orig", m.Content())
}

func TestNewStoreFromMessages(t *testing.T) {
	src := NewStore(seqIDs())
	id := src.AddMessage(core.RoleUser, "a")
	_, err := src.AddAlternative(id, "b")
	require.NoError(t, err)
	src.AddMessage(core.RoleAssistant, "c")

	restored, err := NewStoreFromMessages(src.Messages())
	require.NoError(t, err)
	assert.Equal(t, src.ActiveSequence(), restored.ActiveSequence())
	assert.Equal(t, src.Messages(), restored.Messages())

	_, err = NewStoreFromMessages([]Message{{ID: "x", Role: core.RoleUser, Alternatives: []string{"a"}, ActiveAlternative: 3}})
	assert.ErrorIs(t, err, core.ErrOutOfRange)

	_, err = NewStoreFromMessages([]Message{{ID: "x", Role: core.RoleUser}})
	assert.Error(t, err)

	dup := Message{ID: "x", Role: core.RoleUser, Alternatives: []string{"a"}}
	_, err = NewStoreFromMessages([]Message{dup, dup})
	assert.Error(t, err)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := s.AddMessage(core.RoleUser, fmt.Sprint(i))
			_, _ = s.AddAlternative(id, "alt")
		}(i)
		go func() {
			defer wg.Done()
			_ = s.ActiveSequence()
		}()
	}
	wg.Wait()
	assertInvariants(t, s)
}
