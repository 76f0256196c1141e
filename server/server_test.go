package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hupe1980/flowmesh"
	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/config"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, optFns ...func(o *flowmesh.Options)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.MCP.Endpoint = "http://localhost:9000/mcp"
	optFns = append([]func(o *flowmesh.Options){func(o *flowmesh.Options) { o.SkipMCP = true }}, optFns...)
	app, err := flowmesh.New(context.Background(), cfg, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return New(app)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_HealthAndConfig(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"mcp_endpoint": "http://localhost:9000/mcp"}, decode[map[string]string](t, rec))

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ToolsKindsModels(t *testing.T) {
	s := newTestServer(t)

	infos := decode[[]tool.Info](t, do(t, s, http.MethodGet, "/api/tools", nil))
	var names []string
	for _, i := range infos {
		names = append(names, i.Name)
	}
	assert.Contains(t, names, "get_datetime")
	assert.Contains(t, names, "pop_from_stack")

	kinds := decode[[]kindResponse](t, do(t, s, http.MethodGet, "/api/kinds", nil))
	assert.Len(t, kinds, len(flow.Kinds()))

	models := decode[map[string][]string](t, do(t, s, http.MethodGet, "/api/models", nil))
	assert.Contains(t, models["models"], "mock-model-1")
}

func TestServer_FlowGraphEdits(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/flows", map[string]any{"name": "demo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[flow.Data](t, rec)
	require.NotEmpty(t, created.ID)
	base := "/api/flows/" + created.ID

	rec = do(t, s, http.MethodPost, base+"/steps", map[string]any{"type": flow.TypeSimplePrompt, "data": map[string]any{"prompt": "a"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[flow.Step](t, rec)
	rec = do(t, s, http.MethodPost, base+"/steps", map[string]any{"type": flow.TypeTokenCountBranch, "x": 10})
	require.Equal(t, http.StatusCreated, rec.Code)
	b := decode[flow.Step](t, rec)

	rec = do(t, s, http.MethodPost, base+"/steps", map[string]any{"type": "teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, base+"/connections", map[string]any{"from": a.ID, "to": b.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, base+"/connections", map[string]any{"from": a.ID, "to": b.ID, "outputName": "Over"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPatch, base+"/steps/"+b.ID, map[string]any{"y": 42, "isMinimized": true, "data": map[string]any{"tokenCount": 7}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[flow.Step](t, rec)
	assert.Equal(t, 10.0, moved.X)
	assert.Equal(t, 42.0, moved.Y)
	assert.True(t, moved.Minimized)

	rec = do(t, s, http.MethodPut, base+"/name", map[string]any{"name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[flow.Data](t, do(t, s, http.MethodGet, base, nil))
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, got.Steps, 2)
	assert.Equal(t, []flow.Connection{{From: a.ID, To: b.ID, OutputName: flow.OutputDefault}}, got.Connections)

	rec = do(t, s, http.MethodDelete, base+"/connections?from="+a.ID+"&to="+b.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, base+"/steps/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, base+"/steps/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "name: renamed")

	list := decode[[]flow.Data](t, do(t, s, http.MethodGet, "/api/flows", nil))
	require.Len(t, list, 1)
	assert.Len(t, list[0].Steps, 1)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, base, nil).Code)
}

func TestServer_RunFlow(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/flows", flow.Data{
		Name:  "one",
		Steps: []flow.Step{{ID: "s1", Type: flow.TypeSimplePrompt, Data: map[string]any{"prompt": "hi"}}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[flow.Data](t, rec).ID

	assert.Equal(t, flow.StateIdle, decode[flow.Status](t, do(t, s, http.MethodGet, "/api/flows/"+id+"/status", nil)).State)

	rec = do(t, s, http.MethodPost, "/api/flows/"+id+"/run", map[string]any{})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[runResponse](t, rec)
	require.NotEmpty(t, started.ChatID)

	require.Eventually(t, func() bool {
		st := decode[flow.Status](t, do(t, s, http.MethodGet, "/api/flows/"+id+"/status", nil))
		return st.State == flow.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got := decode[chat.Record](t, do(t, s, http.MethodGet, "/api/chats/"+started.ChatID, nil))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hi", got.Messages[0].Content())
	assert.Equal(t, "Mock response to: hi", got.Messages[1].Content())
	assert.Equal(t, "hi", got.Title)

	rec = do(t, s, http.MethodPost, "/api/flows/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/flows/missing/run", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ChatTurnsAndAlternatives(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/chats", map[string]any{"title": "Demo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[chat.Record](t, rec).ID

	rec = do(t, s, http.MethodPost, "/api/chats/"+id+"/messages", map[string]any{"content": "What's the current date and time?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[turnResponse](t, rec)
	assert.Equal(t, 2, resp.Iterations)
	require.Len(t, resp.Chat.Messages, 4)
	assert.Equal(t, core.RoleTool, resp.Chat.Messages[2].Role)
	assert.Equal(t, "Demo", resp.Chat.Title)

	first := resp.Chat.Messages[0].ID
	rec = do(t, s, http.MethodPost, "/api/chats/"+id+"/messages/"+first+"/alternatives", map[string]any{"content": "edited"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp = decode[turnResponse](t, rec)
	require.NotNil(t, resp.Alternative)
	assert.Equal(t, "2/2", resp.Alternative.Label)
	require.Len(t, resp.Chat.Messages, 2)
	assert.Equal(t, "Mock response to: edited", resp.Chat.Messages[1].Content())

	// Regenerating the answer keeps the question and adds a sibling reply.
	answer := resp.Chat.Messages[1].ID
	rec = do(t, s, http.MethodPost, "/api/chats/"+id+"/messages/"+answer+"/alternatives", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp = decode[turnResponse](t, rec)
	assert.Equal(t, "2/2", resp.Alternative.Label)
	require.Len(t, resp.Chat.Messages, 2)
	assert.Equal(t, []string{"Mock response to: edited", "Mock response to: edited"}, resp.Chat.Messages[1].Alternatives)

	rec = do(t, s, http.MethodPost, "/api/chats/"+id+"/messages/missing/alternatives", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/chats/"+id+"/messages/"+first+"/active", map[string]any{"index": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPut, "/api/chats/"+id+"/messages/"+first+"/active", map[string]any{"index": 0})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/chats/"+id+"/messages", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decode[[]chat.Record](t, do(t, s, http.MethodGet, "/api/chats", nil))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/chats/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/chats/"+id, nil).Code)
}

func TestServer_Agents(t *testing.T) {
	s := newTestServer(t)

	list := decode[[]agent.Agent](t, do(t, s, http.MethodGet, "/api/agents", nil))
	require.Len(t, list, 1)
	assert.Equal(t, agent.DefaultID, list[0].ID)

	rec := do(t, s, http.MethodPost, "/api/agents", map[string]any{"name": "Locked", "toolSettings": map[string]any{"allowAll": false}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	locked := decode[agent.Agent](t, rec)

	rec = do(t, s, http.MethodPost, "/api/agents", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/chats", map[string]any{"agentId": locked.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	chatID := decode[chat.Record](t, rec).ID

	rec = do(t, s, http.MethodPost, "/api/chats/"+chatID+"/messages", map[string]any{"content": "What's the current date and time?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[turnResponse](t, rec)
	require.Len(t, resp.Chat.Messages, 4)
	assert.Contains(t, resp.Chat.Messages[2].Content(), `Tool "get_datetime" is not enabled.`)

	rec = do(t, s, http.MethodPost, "/api/chats", map[string]any{"agentId": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/agents/"+locked.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/agents/"+locked.ID, nil).Code)
}

// stallModel blocks every completion until the context ends.
type stallModel struct{ started chan struct{} }

func (m stallModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		select {
		case m.started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return respCh, errCh
}

func (stallModel) Info() model.Info { return model.Info{Name: "stall", Provider: "test"} }

func TestServer_ChatBusyWhileFlowRuns(t *testing.T) {
	started := make(chan struct{}, 1)
	s := newTestServer(t, func(o *flowmesh.Options) { o.Model = stallModel{started: started} })

	rec := do(t, s, http.MethodPost, "/api/flows", flow.Data{
		Name:  "stall",
		Steps: []flow.Step{{ID: "s1", Type: flow.TypeSimplePrompt, Data: map[string]any{"prompt": "flow prompt"}}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	flowID := decode[flow.Data](t, rec).ID

	rec = do(t, s, http.MethodPost, "/api/flows/"+flowID+"/run", map[string]any{})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	chatID := decode[runResponse](t, rec).ChatID
	<-started

	rec = do(t, s, http.MethodPost, "/api/chats/"+chatID+"/messages", map[string]any{"content": "chat msg"})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	got := decode[chat.Record](t, do(t, s, http.MethodGet, "/api/chats/"+chatID, nil))
	require.Len(t, got.Messages, 1)
	msgID := got.Messages[0].ID
	rec = do(t, s, http.MethodPost, "/api/chats/"+chatID+"/messages/"+msgID+"/alternatives", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, s, http.MethodPut, "/api/chats/"+chatID+"/messages/"+msgID+"/active", map[string]any{"index": 0})
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/flows/"+flowID+"/cancel", nil).Code)
	require.Eventually(t, func() bool {
		st := decode[flow.Status](t, do(t, s, http.MethodGet, "/api/flows/"+flowID+"/status", nil))
		return st.State == flow.StateAborted
	}, 2*time.Second, 10*time.Millisecond)

	got = decode[chat.Record](t, do(t, s, http.MethodGet, "/api/chats/"+chatID, nil))
	assert.Len(t, got.Messages, 1)
}
