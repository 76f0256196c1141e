package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/model"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// MockBackendOptions configures the mock completion endpoint.
type MockBackendOptions struct {
	// Delay is slept between streamed fragments.
	Delay  time.Duration
	Logger logging.Logger
	// Now stamps the created field of responses.
	Now func() time.Time
}

type mockBackend struct {
	backend *model.MockBackend
	opts    MockBackendOptions
}

// NewMockBackend serves b as an OpenAI-compatible API: POST
// /v1/chat/completions and GET /v1/models. Streaming requests receive one
// SSE chunk per rune without finish_reason, then [DONE].
func NewMockBackend(b *model.MockBackend, optFns ...func(o *MockBackendOptions)) *echo.Echo {
	opts := MockBackendOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = core.EnsureLogger(opts.Logger)

	m := &mockBackend{backend: b, opts: opts}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.POST("/v1/chat/completions", m.completions)
	e.GET("/v1/models", m.models)
	return e
}

type mockMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// text accepts plain string content and the array-of-parts form.
func (m mockMessage) text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		var out string
		for _, p := range parts {
			out += p.Text
		}
		return out
	}
	return string(m.Content)
}

type mockRequest struct {
	Model    string        `json:"model"`
	Messages []mockMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

func (m *mockBackend) completions(c echo.Context) error {
	var req mockRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entries := make([]core.Entry, 0, len(req.Messages))
	for _, msg := range req.Messages {
		entries = append(entries, core.Entry{Role: core.Role(msg.Role), Content: msg.text()})
	}
	reply := m.backend.Reply(entries)
	id := "chatcmpl-" + util.NewID()
	created := m.opts.Now().Unix()
	name := req.Model
	if name == "" {
		name = m.backend.Info().Name
	}
	m.opts.Logger.Debug("mock.completion", "model", name, "messages", len(entries), "reply_len", len(reply))

	if !req.Stream {
		return c.JSON(http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": created,
			"model":   name,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	for _, r := range reply {
		chunk, err := json.Marshal(map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   name,
			"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]any{"content": string(r)},
			}},
		})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", chunk); err != nil {
			return err
		}
		w.Flush()
		if m.opts.Delay > 0 {
			select {
			case <-c.Request().Context().Done():
				return nil
			case <-time.After(m.opts.Delay):
			}
		}
	}
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (m *mockBackend) models(c echo.Context) error {
	ids, err := m.backend.ListModels(c.Request().Context())
	if err != nil {
		return err
	}
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{"id": id, "object": "model", "owned_by": "flowmesh"})
	}
	return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": data})
}
