package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/metrics"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/toolcall"
)

// DefaultMaxIterations caps completions per turn.
const DefaultMaxIterations = 10

// DriverOptions configures a Driver. They can be overridden per Run.
type DriverOptions struct {
	// MaxIterations bounds completions per turn. Zero uses DefaultMaxIterations.
	MaxIterations int
	// Instructions is the agent system prompt sent with every completion.
	Instructions string
	// Stream requests fragment streaming from the model.
	Stream bool
	// OnFragment observes streamed fragments before the message is committed.
	OnFragment func(fragment string)
	Logger     logging.Logger
	Metrics    *metrics.Metrics
}

// CompletionError wraps a failure of the completion backend.
type CompletionError struct {
	Model string
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed (%s): %v", e.Model, e.Err)
}

// Unwrap returns the backend error.
func (e *CompletionError) Unwrap() error { return e.Err }

// Is matches core.ErrCompletion.
func (e *CompletionError) Is(target error) bool { return target == core.ErrCompletion }

// Turn summarizes one driven turn.
type Turn struct {
	// FinalMessageID is the last committed assistant message.
	FinalMessageID string
	// Iterations counts completions performed.
	Iterations int
	// ToolCalls lists the tool results produced during the turn.
	ToolCalls []toolcall.Result
}

// Driver runs the completion / tool-call loop of one turn.
type Driver struct {
	model  model.Model
	interp *Interpreter
	opts   DriverOptions
}

// NewDriver creates a driver.
func NewDriver(m model.Model, interp *Interpreter, optFns ...func(o *DriverOptions)) *Driver {
	opts := DriverOptions{
		MaxIterations: DefaultMaxIterations,
		Stream:        true,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = core.EnsureLogger(opts.Logger)
	if interp == nil {
		interp = NewInterpreter(nil, func(o *InterpreterOptions) { o.Logger = opts.Logger })
	}
	return &Driver{model: m, interp: interp, opts: opts}
}

// Interpreter returns the interpreter used by the driver.
func (d *Driver) Interpreter() *Interpreter { return d.interp }

// Run drives one turn against store. Streamed fragments are buffered and
// the assistant message is appended only once the completion finished. The
// turn ends when the assistant replies without a tool call.
func (d *Driver) Run(ctx context.Context, store *message.Store, policy tool.Policy, optFns ...func(o *DriverOptions)) (*Turn, error) {
	opts := d.options(optFns)
	return d.loop(ctx, store, policy, opts, &Turn{})
}

// Regenerate adds a new alternative to the message with the given id and
// regenerates everything after it.
//
// For an assistant message the model answers the active path before it
// again and the reply becomes the new alternative; a tool call in that
// reply continues the turn as Run would. For any other message content is
// the new variant (an empty content repeats the active one) and a turn is
// driven from there.
func (d *Driver) Regenerate(
	ctx context.Context,
	store *message.Store,
	id, content string,
	policy tool.Policy,
	optFns ...func(o *DriverOptions),
) (*Turn, message.Alternative, error) {
	opts := d.options(optFns)

	msg, ok := store.Get(id)
	if !ok {
		return nil, message.Alternative{}, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}

	if msg.Role != core.RoleAssistant {
		if content == "" {
			content = msg.Content()
		}
		alt, err := store.AddAlternative(id, content)
		if err != nil {
			return nil, alt, err
		}
		opts.Logger.Debug("chat.regenerate.started", "message_id", id, "role", string(msg.Role), "alternative", alt.String())
		turn, err := d.loop(ctx, store, policy, opts, &Turn{})
		return turn, alt, err
	}

	seq, err := store.SequenceBefore(id)
	if err != nil {
		return nil, message.Alternative{}, err
	}
	turn := &Turn{}
	text, err := d.complete(ctx, seq, opts)
	if err != nil {
		return turn, message.Alternative{}, err
	}
	turn.Iterations++
	alt, err := store.AddAlternative(id, text)
	if err != nil {
		return turn, alt, err
	}
	turn.FinalMessageID = id
	opts.Logger.Debug("chat.regenerate.started", "message_id", id, "role", string(msg.Role), "alternative", alt.String())

	out := d.interp.Interpret(ctx, store, text, policy)
	if out.Discarded {
		return turn, alt, ctx.Err()
	}
	if !out.ToolRan() {
		return turn, alt, nil
	}
	turn.ToolCalls = append(turn.ToolCalls, *out.Result)
	turn, err = d.loop(ctx, store, policy, opts, turn)
	return turn, alt, err
}

func (d *Driver) options(optFns []func(o *DriverOptions)) DriverOptions {
	opts := d.opts
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = core.EnsureLogger(opts.Logger)
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return opts
}

func (d *Driver) loop(ctx context.Context, store *message.Store, policy tool.Policy, opts DriverOptions, turn *Turn) (*Turn, error) {
	for turn.Iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return turn, err
		}

		text, err := d.complete(ctx, store.ActiveSequence(), opts)
		if err != nil {
			return turn, err
		}
		turn.Iterations++
		turn.FinalMessageID = store.AddMessage(core.RoleAssistant, text)

		out := d.interp.Interpret(ctx, store, text, policy)
		if out.Discarded {
			return turn, ctx.Err()
		}
		if !out.ToolRan() {
			opts.Logger.Debug("chat.turn.completed", "iterations", turn.Iterations, "tool_calls", len(turn.ToolCalls))
			return turn, nil
		}
		turn.ToolCalls = append(turn.ToolCalls, *out.Result)
	}

	opts.Logger.Warn("chat.turn.limit_exceeded", "iterations", turn.Iterations)
	return turn, fmt.Errorf("%w: %d iterations", core.ErrTurnLimitExceeded, opts.MaxIterations)
}

func (d *Driver) complete(ctx context.Context, seq []core.Entry, opts DriverOptions) (string, error) {
	name := d.model.Info().Name
	start := time.Now()
	fragments := 0

	resp, err := model.Collect(ctx, d.model, model.Request{
		Instructions: opts.Instructions,
		Messages:     seq,
		Stream:       opts.Stream,
	}, func(f string) {
		fragments++
		if opts.OnFragment != nil {
			opts.OnFragment(f)
		}
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		opts.Logger.Info("chat.completion.canceled", "model", name, "fragments_dropped", fragments)
		return "", ctxErr
	}
	opts.Metrics.Completion(name, time.Since(start), err)
	if err != nil {
		opts.Logger.Error("chat.completion.failed", "model", name, "error", err.Error())
		return "", &CompletionError{Model: name, Err: err}
	}
	opts.Logger.Debug("chat.completion.done", "model", name, "fragments", fragments, "duration_ms", time.Since(start).Milliseconds())
	return resp.Text, nil
}
