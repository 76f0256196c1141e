package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
)

// Request captures the normalized model input produced by turns.
type Request struct {
	Instructions string       `json:"instructions"` // System prompt of the agent
	Messages     []core.Entry `json:"messages"`     // Active conversation path
	Stream       bool         `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry one fragment; the final chunk carries the complete text.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsStreaming bool   `json:"supports_streaming"`
}

// Model is the minimal interface required by turns and flows to drive generation.
//
// Generate must close both channels when done. Exactly one non-partial
// Response is sent on success; on failure an error is sent instead.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Lister is implemented by backends that can enumerate served model ids.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Collect drains a Generate call and returns the final text. Partial
// fragments are passed to onFragment when it is non-nil.
func Collect(ctx context.Context, m Model, req Request, onFragment func(string)) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				if onFragment != nil {
					onFragment(r.Text)
				}
				continue
			}
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if final == nil {
		return Response{}, fmt.Errorf("model %s: stream ended without a final response", m.Info().Name)
	}
	return *final, nil
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Replies are looked up by the content of the last message.
type MockModel struct {
	info      Info
	responses map[string]string
	fallback  func(req Request) string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:              name,
			Provider:          provider,
			SupportsStreaming: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// SetFallback sets the reply used when no canned response matches.
func (m *MockModel) SetFallback(fn func(req Request) string) { m.fallback = fn }

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	return streamText(ctx, req, func() (string, error) {
		if len(req.Messages) == 0 {
			return "", fmt.Errorf("no messages provided")
		}
		input := req.Messages[len(req.Messages)-1].Content
		if full, ok := m.responses[input]; ok {
			return full, nil
		}
		if m.fallback != nil {
			return m.fallback(req), nil
		}
		return fmt.Sprintf("Mock response to: %s", input), nil
	})
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// streamText runs reply in a goroutine and emits its text as rune fragments
// (when streaming) followed by the final response.
func streamText(ctx context.Context, req Request, reply func() (string, error)) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		full, err := reply()
		if err != nil {
			errCh <- err
			return
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Partial: false, Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}
