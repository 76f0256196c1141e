// Package builtin provides the small set of tools that ship with flowmesh:
// date/time lookup and a prompt stack. They back offline runs and can be
// served to other clients over MCP (see mcp.NewServer).
package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/tool"
)

// EmptyStackMessage is returned by pop_from_stack when nothing is stacked.
const EmptyStackMessage = "Error: Stack is empty"

// Datetime returns a tool reporting the current local time in RFC 3339 form.
// The name is configurable since clients know it as both get_datetime and
// get_current_datetime.
func Datetime(name string, now func() time.Time) tool.Tool {
	if now == nil {
		now = time.Now
	}
	return tool.NewFunctionTool(
		name,
		"Get the current date and time in ISO format.",
		nil,
		func(_ context.Context, _ map[string]any) (any, error) {
			return now().Format(time.RFC3339), nil
		},
	)
}

type pushArgs struct {
	Prompt string `json:"prompt" description:"The prompt to add to the stack."`
}

// Stack is a LIFO of prompts shared by the add_to_stack and pop_from_stack tools.
type Stack struct {
	mu    sync.Mutex
	items []string
}

// NewStack creates an empty stack.
func NewStack() *Stack { return &Stack{} }

// Push adds a prompt and returns the new size.
func (s *Stack) Push(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, p)
	return len(s.items)
}

// Pop removes the latest prompt.
func (s *Stack) Pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return "", false
	}
	p := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return p, true
}

// Len returns the number of stacked prompts.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Tools returns add_to_stack and pop_from_stack bound to s.
func (s *Stack) Tools() []tool.Tool {
	push := tool.NewFunctionToolFromStruct(
		"add_to_stack",
		"Add a prompt to the stack.",
		pushArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			prompt, _ := args["prompt"].(string)
			n := s.Push(prompt)
			return fmt.Sprintf("Prompt added to stack. Current stack size: %d", n), nil
		},
	)
	pop := tool.NewFunctionTool(
		"pop_from_stack",
		"Pop the latest prompt from the stack.",
		nil,
		func(_ context.Context, _ map[string]any) (any, error) {
			p, ok := s.Pop()
			if !ok {
				return EmptyStackMessage, nil
			}
			return p, nil
		},
	)
	return []tool.Tool{push, pop}
}

// Defaults returns every builtin tool: get_datetime, get_current_datetime,
// add_to_stack and pop_from_stack (sharing one stack).
func Defaults() []tool.Tool {
	tools := []tool.Tool{
		Datetime("get_datetime", nil),
		Datetime("get_current_datetime", nil),
	}
	return append(tools, NewStack().Tools()...)
}
