package chat

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/metrics"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/toolcall"
)

// InterpreterOptions configures an Interpreter.
type InterpreterOptions struct {
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Interpreter turns tool-call markers into tool-role messages.
type Interpreter struct {
	provider tool.Provider
	opts     InterpreterOptions
}

// NewInterpreter creates an interpreter dispatching through provider. A nil
// provider offers no tools, so every call is reported as not enabled.
func NewInterpreter(provider tool.Provider, optFns ...func(o *InterpreterOptions)) *Interpreter {
	opts := InterpreterOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = core.EnsureLogger(opts.Logger)
	return &Interpreter{provider: provider, opts: opts}
}

// Outcome describes what the interpreter did with one assistant message.
type Outcome struct {
	// Invocation is toolcall.NoToolCall or the honored toolcall.ToolCall.
	Invocation toolcall.Invocation
	// Result is set when a tool message was produced.
	Result *toolcall.Result
	// MessageID of the appended tool message.
	MessageID string
	// Ignored counts markers after the first one.
	Ignored int
	// Discarded is true when the context ended during dispatch and the
	// late result was dropped instead of appended.
	Discarded bool
}

// ToolRan reports whether a tool message was appended.
func (o Outcome) ToolRan() bool { return o.MessageID != "" }

// Interpret scans content for the first tool-call marker and handles it.
// It never returns an error: protocol failures become error results.
func (i *Interpreter) Interpret(ctx context.Context, store *message.Store, content string, policy tool.Policy) Outcome {
	inv, count := toolcall.First(content)
	if n := toolcall.Malformed(content); n > 0 {
		i.opts.Logger.Warn("chat.toolcall.malformed_ignored", "markers", n)
	}
	call, ok := inv.(toolcall.ToolCall)
	if !ok {
		return Outcome{Invocation: toolcall.NoToolCall{}}
	}

	out := Outcome{Invocation: call}
	if count > 1 {
		out.Ignored = count - 1
		i.opts.Logger.Warn("chat.toolcall.extra_ignored", "tool", call.Name, "ignored", out.Ignored)
	}

	var result toolcall.Result
	if !policy.Allows(call.Name) {
		result = i.notEnabled(call.Name)
	} else if offered, err := i.offered(ctx, call.Name); err != nil {
		result = i.listFailed(call.Name, err)
	} else if !offered {
		result = i.notEnabled(call.Name)
	} else {
		result = i.dispatch(ctx, call.Name, call.Arguments)
		if ctx.Err() != nil {
			i.opts.Logger.Info("chat.tool.result_discarded", "tool", call.Name)
			out.Discarded = true
			return out
		}
	}

	return i.commit(store, out, result)
}

// Call dispatches a named tool directly and appends its result. The agent
// policy is not consulted but the tool must be offered by the provider.
func (i *Interpreter) Call(ctx context.Context, store *message.Store, name string, args map[string]any) Outcome {
	out := Outcome{Invocation: toolcall.ToolCall{Name: name, Arguments: args}}

	var result toolcall.Result
	if offered, err := i.offered(ctx, name); err != nil {
		result = i.listFailed(name, err)
	} else if !offered {
		result = i.notEnabled(name)
	} else {
		result = i.dispatch(ctx, name, args)
		if ctx.Err() != nil {
			out.Discarded = true
			return out
		}
	}
	return i.commit(store, out, result)
}

func (i *Interpreter) commit(store *message.Store, out Outcome, result toolcall.Result) Outcome {
	out.Result = &result
	out.MessageID = store.AddMessage(core.RoleTool, toolcall.RenderResult(result))
	return out
}

func (i *Interpreter) notEnabled(name string) toolcall.Result {
	i.opts.Logger.Warn("chat.tool.not_enabled", "tool", name)
	i.opts.Metrics.ToolCall(name, string(toolcall.StatusError), 0)
	return toolcall.Result{ToolName: name, Status: toolcall.StatusError, Payload: toolcall.NotEnabledMessage(name)}
}

// listFailed reports a provider that could not list its tools as a
// dispatch fault of the requested tool.
func (i *Interpreter) listFailed(name string, err error) toolcall.Result {
	i.opts.Logger.Error("chat.tool.list_failed", "tool", name, "error", err.Error())
	i.opts.Metrics.ToolCall(name, string(toolcall.StatusError), 0)
	te := tool.NewToolError(name, fmt.Sprintf("listing tools failed: %v", err), tool.CodeDispatch)
	return toolcall.Result{ToolName: name, Status: toolcall.StatusError, Payload: te.Message}
}

// offered reports whether the provider lists name.
func (i *Interpreter) offered(ctx context.Context, name string) (bool, error) {
	if i.provider == nil {
		return false, nil
	}
	infos, err := i.provider.Tools(ctx)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// dispatch calls the provider and converts every outcome, panics included,
// into a Result.
func (i *Interpreter) dispatch(ctx context.Context, name string, args map[string]any) (res toolcall.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			i.opts.Logger.Error("chat.tool.panic", "tool", name, "recover", r, "stack", string(debug.Stack()))
			res = toolcall.Result{ToolName: name, Status: toolcall.StatusError, Payload: fmt.Sprintf("panic: %v", r)}
		}
		i.opts.Metrics.ToolCall(name, string(res.Status), time.Since(start))
		i.opts.Logger.Info(
			"chat.tool.dispatched",
			"tool", name,
			"status", string(res.Status),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if args == nil {
		args = map[string]any{}
	}
	value, err := i.provider.Call(ctx, name, args)
	if err != nil {
		return toolcall.Result{ToolName: name, Status: toolcall.StatusError, Payload: errorPayload(name, err)}
	}
	payload, err := tool.FormatResult(value)
	if err != nil {
		return toolcall.Result{ToolName: name, Status: toolcall.StatusError, Payload: err.Error()}
	}
	return toolcall.Result{ToolName: name, Status: toolcall.StatusSuccess, Payload: payload}
}

// errorPayload prefers the bare tool message over the decorated error text.
func errorPayload(name string, err error) string {
	te := tool.AsToolError(name, err)
	if te.Message != "" {
		return te.Message
	}
	return err.Error()
}
