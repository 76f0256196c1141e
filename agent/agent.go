package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/tool"
)

// DefaultID identifies the agent used when a chat or flow names none.
const DefaultID = "default"

// ErrInvalidAgent is returned by Validate.
var ErrInvalidAgent = errors.New("invalid agent")

// Agent is a named bundle of model, system prompt and tool policy.
type Agent struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Model        string      `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string      `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	Tools        tool.Policy `json:"toolSettings" yaml:"toolSettings"`
}

// Default returns the built-in agent: every tool enabled, no system prompt.
func Default() Agent {
	return Agent{
		ID:    DefaultID,
		Name:  "Default Agent",
		Tools: tool.AllowAllTools(),
	}
}

// New creates an agent with a fresh id.
func New(name, systemPrompt string, policy tool.Policy) Agent {
	return Agent{ID: util.NewID(), Name: name, SystemPrompt: systemPrompt, Tools: policy}
}

// Validate checks the fields required for persistence.
func (a Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAgent)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: agent %s has no name", ErrInvalidAgent, a.ID)
	}
	return nil
}

// Instructions renders the system prompt as a template. Available fields
// are .name (agent name) and .date (current date, YYYY-MM-DD).
func (a Agent) Instructions(now time.Time) (string, error) {
	if a.SystemPrompt == "" {
		return "", nil
	}
	out, err := util.RenderTemplate(a.SystemPrompt, map[string]any{
		"name": a.Name,
		"date": now.Format("2006-01-02"),
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: system prompt: %w", a.ID, err)
	}
	return out, nil
}

// DriverOptions returns a per-run override applying the agent's
// instructions. Template errors fall back to the raw prompt.
func (a Agent) DriverOptions(now time.Time) func(o *chat.DriverOptions) {
	instructions, err := a.Instructions(now)
	if err != nil {
		instructions = a.SystemPrompt
	}
	return func(o *chat.DriverOptions) {
		o.Instructions = instructions
	}
}
