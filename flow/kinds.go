package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/tokens"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/tool/builtin"
	"github.com/hupe1980/flowmesh/toolcall"
)

// Step type names.
const (
	TypeSimplePrompt     = "simple-prompt"
	TypeTokenCountBranch = "token-count-branch"
	TypeManualMCPCall    = "manual-mcp-call"
	TypeConsolidator     = "consolidator"
	TypeAltConsolidator  = "alt-consolidator"
	TypePopFromStack     = "pop-from-stack"
)

// Output names.
const (
	OutputDefault = "default"
	OutputOver    = "Over"
	OutputUnder   = "Under"
	OutputEmpty   = "empty"
)

// DefaultTokenThreshold is used by token-count-branch steps without a tokenCount.
const DefaultTokenThreshold = 500

// Env is what a step may touch while executing.
type Env struct {
	Store  *message.Store
	Driver *chat.Driver
	// Policy is the tool policy of the agent answering prompts.
	Policy tool.Policy
	// Turn holds per-run driver overrides such as agent instructions.
	Turn    []func(o *chat.DriverOptions)
	Counter tokens.Counter
	Logger  logging.Logger
}

// RunTurn drives one conversational turn.
func (e *Env) RunTurn(ctx context.Context) error {
	if e.Driver == nil {
		return fmt.Errorf("%w: no driver configured", core.ErrCompletion)
	}
	_, err := e.Driver.Run(ctx, e.Store, e.Policy, e.Turn...)
	return err
}

// Kind is the closed set of step types. Every kind declares its outputs
// and returns the subset to follow after executing.
type Kind interface {
	// Type is the persisted step type name.
	Type() string
	// Title is a human readable label.
	Title() string
	// Outputs lists the output names connections may use.
	Outputs() []string
	// Defaults returns the initial data of new steps.
	Defaults() map[string]any
	// Execute runs the step and returns the selected outputs.
	Execute(ctx context.Context, env *Env, data map[string]any) ([]string, error)

	isKind()
}

var kinds = map[string]Kind{}

func register(k Kind) { kinds[k.Type()] = k }

func init() {
	register(simplePrompt{})
	register(tokenCountBranch{})
	register(manualMCPCall{})
	register(consolidator{})
	register(altConsolidator{})
	register(popFromStack{})
}

// LookupKind returns the kind with the given type name.
func LookupKind(name string) (Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// Kinds returns every registered kind sorted by type name.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}

// -------------------- simple-prompt --------------------

type simplePrompt struct{}

func (simplePrompt) isKind()                  {}
func (simplePrompt) Type() string             { return TypeSimplePrompt }
func (simplePrompt) Title() string            { return "Simple Prompt" }
func (simplePrompt) Outputs() []string        { return []string{OutputDefault} }
func (simplePrompt) Defaults() map[string]any { return map[string]any{"prompt": ""} }

// Execute appends the prompt as a user message and runs a turn. The prompt
// may reference the previous message as {{.last}}.
func (simplePrompt) Execute(ctx context.Context, env *Env, data map[string]any) ([]string, error) {
	prompt, err := renderPrompt(env.Store, stringData(data, "prompt", ""))
	if err != nil {
		return nil, err
	}
	env.Store.AddMessage(core.RoleUser, prompt)
	if err := env.RunTurn(ctx); err != nil {
		return nil, err
	}
	return []string{OutputDefault}, nil
}

// -------------------- token-count-branch --------------------

type tokenCountBranch struct{}

func (tokenCountBranch) isKind()           {}
func (tokenCountBranch) Type() string      { return TypeTokenCountBranch }
func (tokenCountBranch) Title() string     { return "Token Count Branch" }
func (tokenCountBranch) Outputs() []string { return []string{OutputOver, OutputUnder} }
func (tokenCountBranch) Defaults() map[string]any {
	return map[string]any{"tokenCount": DefaultTokenThreshold}
}

// Execute compares the token count of the last message with the threshold.
func (tokenCountBranch) Execute(_ context.Context, env *Env, data map[string]any) ([]string, error) {
	threshold := intData(data, "tokenCount", DefaultTokenThreshold)
	counter := env.Counter
	if counter == nil {
		counter = tokens.Default()
	}

	count := 0
	if last, ok := env.Store.Last(); ok {
		count = counter.Count(last.Content())
	}
	core.EnsureLogger(env.Logger).Debug("flow.branch.tokens", "count", count, "threshold", threshold)
	if count > threshold {
		return []string{OutputOver}, nil
	}
	return []string{OutputUnder}, nil
}

// -------------------- manual-mcp-call --------------------

type manualMCPCall struct{}

func (manualMCPCall) isKind()           {}
func (manualMCPCall) Type() string      { return TypeManualMCPCall }
func (manualMCPCall) Title() string     { return "Manual MCP Call" }
func (manualMCPCall) Outputs() []string { return []string{OutputDefault} }
func (manualMCPCall) Defaults() map[string]any {
	return map[string]any{"toolName": "", "arguments": "{}"}
}

// Execute dispatches the configured tool directly and appends its result.
func (manualMCPCall) Execute(ctx context.Context, env *Env, data map[string]any) ([]string, error) {
	name := stringData(data, "toolName", "")
	if name == "" {
		return nil, fmt.Errorf("%s step: toolName is required", TypeManualMCPCall)
	}
	args, err := argumentsData(data["arguments"])
	if err != nil {
		return nil, fmt.Errorf("%s step: %w", TypeManualMCPCall, err)
	}
	out := env.Driver.Interpreter().Call(ctx, env.Store, name, args)
	if out.Discarded {
		return nil, ctx.Err()
	}
	return []string{OutputDefault}, nil
}

// -------------------- consolidators --------------------

type consolidator struct{}

func (consolidator) isKind()           {}
func (consolidator) Type() string      { return TypeConsolidator }
func (consolidator) Title() string     { return "Consolidator" }
func (consolidator) Outputs() []string { return []string{OutputDefault} }
func (consolidator) Defaults() map[string]any {
	return map[string]any{
		"prompt":       "Consolidate the following responses into a single answer:",
		"clearHistory": false,
	}
}

// Execute gathers every assistant answer of the active path into one prompt.
func (consolidator) Execute(ctx context.Context, env *Env, data map[string]any) ([]string, error) {
	var parts []string
	for _, e := range env.Store.ActiveSequence() {
		if e.Role == core.RoleAssistant {
			parts = append(parts, e.Content)
		}
	}
	return consolidate(ctx, env, data, parts)
}

type altConsolidator struct{}

func (altConsolidator) isKind()           {}
func (altConsolidator) Type() string      { return TypeAltConsolidator }
func (altConsolidator) Title() string     { return "Alternatives Consolidator" }
func (altConsolidator) Outputs() []string { return []string{OutputDefault} }
func (altConsolidator) Defaults() map[string]any {
	return map[string]any{
		"prompt":       "Consolidate the following alternative responses into a single answer:",
		"clearHistory": false,
	}
}

// Execute gathers every alternative of the last assistant message.
func (altConsolidator) Execute(ctx context.Context, env *Env, data map[string]any) ([]string, error) {
	var parts []string
	if last, ok := env.Store.LastByRole(core.RoleAssistant); ok {
		parts = append(parts, last.Alternatives...)
	}
	return consolidate(ctx, env, data, parts)
}

func consolidate(ctx context.Context, env *Env, data map[string]any, parts []string) ([]string, error) {
	var b strings.Builder
	b.WriteString(stringData(data, "prompt", ""))
	for i, p := range parts {
		fmt.Fprintf(&b, "\n\n--- Response %d ---\n%s", i+1, p)
	}

	if boolData(data, "clearHistory") {
		env.Store.Clear()
	}
	env.Store.AddMessage(core.RoleUser, strings.TrimSpace(b.String()))
	if err := env.RunTurn(ctx); err != nil {
		return nil, err
	}
	return []string{OutputDefault}, nil
}

// -------------------- pop-from-stack --------------------

type popFromStack struct{}

func (popFromStack) isKind()           {}
func (popFromStack) Type() string      { return TypePopFromStack }
func (popFromStack) Title() string     { return "Pop From Stack" }
func (popFromStack) Outputs() []string { return []string{OutputDefault, OutputEmpty} }
func (popFromStack) Defaults() map[string]any {
	return map[string]any{"toolName": "pop_from_stack"}
}

// Execute pops the next prompt and runs it. An empty stack (or a failing
// pop) selects the empty output without touching the conversation.
func (popFromStack) Execute(ctx context.Context, env *Env, data map[string]any) ([]string, error) {
	name := stringData(data, "toolName", "pop_from_stack")
	scratch := message.NewStore()
	out := env.Driver.Interpreter().Call(ctx, scratch, name, nil)
	if out.Discarded {
		return nil, ctx.Err()
	}
	if out.Result == nil || out.Result.Status != toolcall.StatusSuccess {
		return []string{OutputEmpty}, nil
	}

	prompt := popped(out.Result.Payload)
	if prompt == "" || prompt == builtin.EmptyStackMessage {
		return []string{OutputEmpty}, nil
	}
	env.Store.AddMessage(core.RoleUser, prompt)
	if err := env.RunTurn(ctx); err != nil {
		return nil, err
	}
	return []string{OutputDefault}, nil
}

// popped extracts the prompt text from a formatted tool payload.
func popped(payload string) string {
	var blocks []tool.TextContent
	if err := json.Unmarshal([]byte(payload), &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			texts = append(texts, b.Text)
		}
		return strings.TrimSpace(strings.Join(texts, "\n"))
	}
	var s string
	if err := json.Unmarshal([]byte(payload), &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(payload)
}

// -------------------- data helpers --------------------

func renderPrompt(store *message.Store, prompt string) (string, error) {
	last := ""
	if m, ok := store.Last(); ok {
		last = m.Content()
	}
	return util.RenderTemplate(prompt, map[string]any{"last": last})
}

func stringData(data map[string]any, key, def string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

func boolData(data map[string]any, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// intData accepts JSON numbers, Go integers and numeric strings.
func intData(data map[string]any, key string, def int) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// argumentsData accepts an object or a JSON object string.
func argumentsData(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return cloneData(t), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return map[string]any{}, nil
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(t), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments JSON: %w", err)
		}
		return args, nil
	default:
		return nil, fmt.Errorf("arguments must be an object, got %T", v)
	}
}
