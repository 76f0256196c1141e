package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/internal/testutil"
	"github.com/hupe1980/flowmesh/tool"
)

func TestMemoryStore(t *testing.T) {
	testutil.RecordStoreSuite(t, NewMemoryStore())
}

func TestRepository_Agents(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[agent.Agent](NewMemoryStore(), core.KindAgent)
	assert.Equal(t, core.KindAgent, repo.Kind())

	a := agent.New("Researcher", "You are {{.name}}.", tool.AllowOnly("get_datetime"))
	require.NoError(t, repo.Save(ctx, a.ID, a))

	got, err := repo.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []agent.Agent{a}, all)

	require.NoError(t, repo.Delete(ctx, a.ID))
	_, err = repo.Load(ctx, a.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRepository_ChatRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[chat.Record](NewMemoryStore(), core.KindChat)

	conv := testutil.NewConversationBuilder().
		User("What is the capital of France?").
		Assistant("Paris", "Paris, France").
		Build()
	rec := chat.Record{ID: "c1", AgentID: agent.DefaultID}
	rec.Capture(conv)
	require.NoError(t, repo.Save(ctx, rec.ID, rec))

	got, err := repo.Load(ctx, "c1")
	require.NoError(t, err)
	restored, err := got.Restore()
	require.NoError(t, err)
	assert.Equal(t, conv.ActiveSequence(), restored.ActiveSequence())
	assert.Equal(t, "What is the capital of France?", got.Title)

	last, ok := restored.Last()
	require.True(t, ok)
	assert.Equal(t, []string{"Paris", "Paris, France"}, last.Alternatives)
	assert.Equal(t, 1, last.ActiveAlternative)
}

func TestRepository_Flows(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[flow.Data](NewMemoryStore(), core.KindFlow)

	f := flow.New("saved")
	a, err := f.AddStep(flow.TypeSimplePrompt, 1, 2, map[string]any{"prompt": "hi"})
	require.NoError(t, err)
	b, err := f.AddStep(flow.TypeTokenCountBranch, 3, 4, nil)
	require.NoError(t, err)
	require.NoError(t, f.AddConnection(a.ID, b.ID, flow.OutputDefault))

	require.NoError(t, repo.Save(ctx, f.ID(), f.ToData()))
	data, err := repo.Load(ctx, f.ID())
	require.NoError(t, err)

	g, err := flow.FromData(data)
	require.NoError(t, err)
	assert.Equal(t, f.ID(), g.ID())
	assert.Equal(t, f.Connections(), g.Connections())
	assert.Len(t, g.Steps(), 2)
}

func TestRepository_DecodeError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, core.KindAgent, "bad", []byte(`[`)))

	repo := NewRepository[agent.Agent](s, core.KindAgent)
	_, err := repo.Load(ctx, "bad")
	assert.Error(t, err)
	_, err = repo.List(ctx)
	assert.Error(t, err)
}
