package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/flowmesh/core"
)

// Trigger phrases and fixed answers of the scripted backend.
const (
	DatetimeQuestion    = "What's the current date and time?"
	ToolErrorTrigger    = "Trigger a tool error."
	DatetimeAnswer      = "The current date and time has been provided by the tool."
	ToolSuccessAnswer   = "The last tool response was successful."
	ToolErrorAnswer     = "The last tool response was an error."
	DatetimeToolCall    = `<dma:tool_call name="get_datetime"/>`
	MissingToolToolCall = `<dma:tool_call name="non_existent_tool"/>`
)

// MockBackendOptions configures a MockBackend.
type MockBackendOptions struct {
	// Name is reported by Info.
	Name string
	// MaxLen truncates replies longer than MaxLen runes and appends "...".
	// Zero disables truncation.
	MaxLen int
	// Models is the list served by ListModels.
	Models []string
}

// MockBackend is a deterministic Model that scripts the tool-calling
// protocol: it asks for tools on trigger phrases and comments on tool
// responses. It backs offline runs, tests and the mock HTTP endpoint.
type MockBackend struct {
	opts MockBackendOptions
}

// NewMockBackend creates a scripted backend.
func NewMockBackend(optFns ...func(o *MockBackendOptions)) *MockBackend {
	opts := MockBackendOptions{
		Name:   "mock-model-1",
		Models: []string{"mock-model-1", "qwen/qwen3-30b-a3b-2507", "mock-model-3"},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &MockBackend{opts: opts}
}

// Reply computes the scripted answer for a message sequence. Rules are
// evaluated against the last message in order; the first match wins.
func (b *MockBackend) Reply(messages []core.Entry) string {
	if len(messages) == 0 {
		return b.truncate("Mock response to: ")
	}
	last := messages[len(messages)-1]

	var reply string
	switch {
	case last.Role == core.RoleUser && strings.Contains(last.Content, DatetimeQuestion):
		reply = DatetimeToolCall
	case last.Role == core.RoleUser && strings.Contains(last.Content, ToolErrorTrigger):
		reply = MissingToolToolCall
	case last.Role == core.RoleTool &&
		strings.Contains(last.Content, `<dma:tool_response name="get_datetime"`) &&
		strings.Contains(last.Content, `"text": "`):
		reply = DatetimeAnswer
	case last.Role == core.RoleTool && strings.Contains(last.Content, "</content>\n</dma:tool_response>"):
		reply = ToolSuccessAnswer
	case last.Role == core.RoleTool && strings.Contains(last.Content, "</error>\n</dma:tool_response>"):
		reply = ToolErrorAnswer
	default:
		reply = fmt.Sprintf("Mock response to: %s", last.Content)
	}
	return b.truncate(reply)
}

func (b *MockBackend) truncate(s string) string {
	if b.opts.MaxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= b.opts.MaxLen {
		return s
	}
	return string(r[:b.opts.MaxLen]) + "..."
}

// Generate implements Model.
func (b *MockBackend) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	return streamText(ctx, req, func() (string, error) {
		return b.Reply(req.Messages), nil
	})
}

// Info implements Model.
func (b *MockBackend) Info() Info {
	return Info{Name: b.opts.Name, Provider: "mock", SupportsStreaming: true}
}

// ListModels implements Lister.
func (b *MockBackend) ListModels(_ context.Context) ([]string, error) {
	return append([]string(nil), b.opts.Models...), nil
}
