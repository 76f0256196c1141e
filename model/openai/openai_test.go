package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

func newServer(t *testing.T, captured *capturedRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, captured))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"mock-model-1","object":"model"},{"id":"mock-model-3","object":"model"}]}`)
	})
	return httptest.NewServer(mux)
}

func TestModel_StreamingWithoutFinishReason(t *testing.T) {
	var captured capturedRequest
	srv := newServer(t, &captured)
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.BaseURL = srv.URL + "/v1/"
		o.APIKey = "test"
		o.Model = "mock-model-1"
	})

	var fragments []string
	resp, err := model.Collect(context.Background(), m, model.Request{
		Instructions: "Be brief.",
		Messages: []core.Entry{
			{Role: core.RoleUser, Content: "hi"},
			{Role: core.RoleAssistant, Content: `<dma:tool_call name="x"/>`},
			{Role: core.RoleTool, Content: "result"},
		},
		Stream: true,
	}, func(f string) { fragments = append(fragments, f) })
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, []string{"Hel", "lo"}, fragments)

	assert.Equal(t, "mock-model-1", captured.Model)
	assert.True(t, captured.Stream)
	require.Len(t, captured.Messages, 4)
	roles := []string{}
	for _, msg := range captured.Messages {
		roles = append(roles, msg.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool"}, roles)
}

func TestModel_ListModels(t *testing.T) {
	srv := newServer(t, &capturedRequest{})
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.BaseURL = srv.URL + "/v1/"
		o.APIKey = "test"
	})
	ids, err := m.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mock-model-1", "mock-model-3"}, ids)
	assert.Equal(t, "openai", m.Info().Provider)
}
