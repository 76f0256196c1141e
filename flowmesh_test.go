package flowmesh

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/config"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/runner"
	"github.com/hupe1980/flowmesh/store"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T, optFns ...func(o *Options)) *App {
	t.Helper()
	optFns = append([]func(o *Options){func(o *Options) { o.SkipMCP = true }}, optFns...)
	app, err := New(context.Background(), config.Default(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

// gateModel holds its first completion until release is closed and answers
// "answer to: <last message>".
type gateModel struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGateModel() *gateModel {
	return &gateModel{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	n := g.calls.Add(1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		if n == 1 {
			close(g.entered)
			select {
			case <-g.release:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		last := req.Messages[len(req.Messages)-1]
		respCh <- model.Response{Text: "answer to: " + last.Content, FinishReason: "stop"}
	}()
	return respCh, errCh
}

func (g *gateModel) Info() model.Info { return model.Info{Name: "gate", Provider: "test"} }

func TestNewModel(t *testing.T) {
	cfg := config.Default().Model

	m, err := NewModel(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, model.Info{Name: "mock-model-1", Provider: "mock", SupportsStreaming: true}, m.Info())

	m, err = NewModel(cfg, "mock-model-3")
	require.NoError(t, err)
	assert.Equal(t, "mock-model-3", m.Info().Name)

	cfg.Provider = "openai"
	cfg.APIKey = "test"
	m, err = NewModel(cfg, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Info().Provider)

	cfg.Provider = "gemini"
	_, err = NewModel(cfg, "")
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, closer, err := OpenStore(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &store.MemoryStore{}, s)

	s, closer, err = OpenStore(ctx, config.StoreConfig{Driver: "sqlite"})
	require.NoError(t, err)
	require.NotNil(t, closer)
	require.NoError(t, s.Put(ctx, core.KindFlow, "f1", []byte(`{}`)))
	require.NoError(t, closer())

	_, _, err = OpenStore(ctx, config.StoreConfig{Driver: "etcd"})
	require.Error(t, err)
}

func TestApp_Agent(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)

	ag, err := app.Agent(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, agent.Default(), ag)

	_, err = app.Agent(ctx, "ghost")
	require.ErrorIs(t, err, core.ErrNotFound)

	custom := agent.New("Custom", "You are {{.name}}.", tool.AllowOnly())
	require.NoError(t, app.Agents.Save(ctx, custom.ID, custom))
	got, err := app.Agent(ctx, custom.ID)
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}

func twoStepFlow(t *testing.T) *flow.Flow {
	t.Helper()
	f := flow.New("two-step")
	a, err := f.AddStep(flow.TypeSimplePrompt, 0, 0, map[string]any{"prompt": model.DatetimeQuestion})
	require.NoError(t, err)
	b, err := f.AddStep(flow.TypeSimplePrompt, 0, 100, map[string]any{"prompt": "Flow continued."})
	require.NoError(t, err)
	require.NoError(t, f.AddConnection(a.ID, b.ID, flow.OutputDefault))
	return f
}

func TestApp_RunFlow(t *testing.T) {
	app := newApp(t)
	s := message.NewStore()

	run, err := app.RunFlow(context.Background(), twoStepFlow(t), s, "")
	require.NoError(t, err)
	assert.Equal(t, flow.StateCompleted, run.State())

	seq := s.ActiveSequence()
	require.Len(t, seq, 6)
	assert.Equal(t, core.RoleTool, seq[2].Role)
	assert.Contains(t, seq[2].Content, `<dma:tool_response name="get_datetime">`)
	assert.Equal(t, model.DatetimeAnswer, seq[3].Content)
	assert.Equal(t, "Mock response to: Flow continued.", seq[5].Content)
}

func TestApp_RunFlowHonorsAgentPolicy(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)
	locked := agent.New("Locked", "", tool.AllowOnly())
	require.NoError(t, app.Agents.Save(ctx, locked.ID, locked))

	s := message.NewStore()
	_, err := app.RunFlow(ctx, twoStepFlow(t), s, locked.ID)
	require.NoError(t, err)

	seq := s.ActiveSequence()
	require.Len(t, seq, 6)
	assert.Contains(t, seq[2].Content, toolcall.NotEnabledMessage("get_datetime"))
	assert.Equal(t, model.ToolErrorAnswer, seq[3].Content)
}

func TestApp_StartFlow(t *testing.T) {
	app := newApp(t)
	s := message.NewStore()

	var steps []string
	h, err := app.StartFlow(context.Background(), twoStepFlow(t), s, "", func(o *flow.RunOptions) {
		o.OnStep = func(ev flow.StepEvent) { steps = append(steps, ev.StepID) }
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	assert.Len(t, steps, 2)
	assert.Equal(t, 6, s.Len())
}

func TestApp_ChatTurn(t *testing.T) {
	app := newApp(t)
	s := message.NewStore()

	var fragments []string
	turn, err := app.ChatTurn(context.Background(), "chat-1", "", s, "hello", func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, turn.Iterations)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, turn.FinalMessageID, last.ID)
	assert.Equal(t, "Mock response to: hello", s.ActiveSequence()[1].Content)
	assert.NotEmpty(t, fragments)
}

func TestApp_ChatTurnWaitsForFlowRun(t *testing.T) {
	gate := newGateModel()
	app := newApp(t, func(o *Options) { o.Model = gate })
	s := message.NewStore()

	f := flow.New("single")
	_, err := f.AddStep(flow.TypeSimplePrompt, 0, 0, map[string]any{"prompt": "flow prompt"})
	require.NoError(t, err)

	h, err := app.StartFlow(context.Background(), f, s, "")
	require.NoError(t, err)
	<-gate.entered

	_, err = app.ChatTurn(context.Background(), "chat-1", "", s, "chat msg", nil)
	assert.ErrorIs(t, err, runner.ErrAlreadyRunning)
	assert.ErrorIs(t, app.SetActiveAlternative("chat-1", s, s.Messages()[0].ID, 0), runner.ErrAlreadyRunning)

	close(gate.release)
	require.NoError(t, h.Wait())

	_, err = app.ChatTurn(context.Background(), "chat-1", "", s, "chat msg", nil)
	require.NoError(t, err)
	assert.Equal(t, []core.Entry{
		{Role: core.RoleUser, Content: "flow prompt"},
		{Role: core.RoleAssistant, Content: "answer to: flow prompt"},
		{Role: core.RoleUser, Content: "chat msg"},
		{Role: core.RoleAssistant, Content: "answer to: chat msg"},
	}, s.ActiveSequence())
}

func TestApp_Regenerate(t *testing.T) {
	app := newApp(t)
	s := message.NewStore()

	_, err := app.ChatTurn(context.Background(), "chat-1", "", s, "hello", nil)
	require.NoError(t, err)
	userID := s.Messages()[0].ID

	turn, alt, err := app.Regenerate(context.Background(), "chat-1", "", s, userID, "hi there", nil)
	require.NoError(t, err)
	assert.Equal(t, "2/2", alt.String())
	assert.Equal(t, 1, turn.Iterations)
	assert.Equal(t, "Mock response to: hi there", s.ActiveSequence()[1].Content)

	require.NoError(t, app.SetActiveAlternative("chat-1", s, userID, 0))
	assert.Equal(t, "hello", s.ActiveSequence()[0].Content)
}
