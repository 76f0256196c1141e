package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/metrics"
	"github.com/hupe1980/flowmesh/tokens"
	"github.com/hupe1980/flowmesh/tool"
)

// Default loop guard ceilings.
const (
	DefaultMaxSteps    = 100
	DefaultMaxMessages = 30
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Abort reasons.
const (
	ReasonLoopLimit = "loop limit exceeded"
	ReasonCanceled  = "canceled"
)

// Status is a snapshot of a run.
type Status struct {
	State State `json:"state"`
	// StepID is the executing step while Running.
	StepID string `json:"stepId,omitempty"`
	// Reason is set when Aborted.
	Reason   string `json:"reason,omitempty"`
	Steps    int    `json:"steps"`
	Messages int    `json:"messages"`
}

// StepEvent is reported after every executed step.
type StepEvent struct {
	StepID   string
	Type     string
	Outputs  []string
	Duration time.Duration
	Err      error
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// MaxSteps bounds executed steps per run. Zero uses DefaultMaxSteps.
	MaxSteps int
	// MaxMessages bounds messages appended per run. Zero uses DefaultMaxMessages.
	MaxMessages int
	// Counter is used by token-count-branch steps.
	Counter tokens.Counter
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// RunOptions configures a single run.
type RunOptions struct {
	// EntryStepID overrides start step selection.
	EntryStepID string
	// Policy is the tool policy applied to turns.
	Policy tool.Policy
	// Turn holds driver overrides applied to every turn of the run.
	Turn []func(o *chat.DriverOptions)
	// OnStep observes executed steps.
	OnStep func(StepEvent)
}

// Scheduler executes flows against a conversation.
type Scheduler struct {
	driver *chat.Driver
	opts   SchedulerOptions
}

// NewScheduler creates a scheduler running prompt steps through driver.
func NewScheduler(driver *chat.Driver, optFns ...func(o *SchedulerOptions)) *Scheduler {
	opts := SchedulerOptions{
		MaxSteps:    DefaultMaxSteps,
		MaxMessages: DefaultMaxMessages,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.Counter == nil {
		opts.Counter = tokens.Default()
	}
	opts.Logger = core.EnsureLogger(opts.Logger)
	return &Scheduler{driver: driver, opts: opts}
}

// Run is one execution of a flow. It starts Idle and is driven by Execute.
type Run struct {
	flow  *Flow
	store *message.Store
	sched *Scheduler
	opts  RunOptions

	mu     sync.RWMutex
	status Status
}

// NewRun prepares a run without starting it.
func (s *Scheduler) NewRun(f *Flow, store *message.Store, optFns ...func(o *RunOptions)) *Run {
	opts := RunOptions{Policy: tool.AllowAllTools()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Run{flow: f, store: store, sched: s, opts: opts, status: Status{State: StateIdle}}
}

// Run executes f synchronously and returns the finished run.
func (s *Scheduler) Run(ctx context.Context, f *Flow, store *message.Store, optFns ...func(o *RunOptions)) (*Run, error) {
	r := s.NewRun(f, store, optFns...)
	return r, r.Execute(ctx)
}

// Flow returns the flow being run.
func (r *Run) Flow() *Flow { return r.flow }

// Status returns a snapshot of the run state.
func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// State returns the current lifecycle state.
func (r *Run) State() State { return r.Status().State }

func (r *Run) update(fn func(s *Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
}

// Execute walks the flow from its start step. It returns nil when the run
// completed, core.ErrLoopLimitExceeded when the guard tripped, ctx.Err()
// on cancellation and the step error otherwise. Messages appended before
// an abort stay in the store.
func (r *Run) Execute(ctx context.Context) error {
	var prev State
	r.update(func(st *Status) {
		prev = st.State
		if prev == StateIdle {
			st.State = StateRunning
		}
	})
	if prev != StateIdle {
		return fmt.Errorf("run already %s", prev)
	}

	s := r.sched
	log := s.opts.Logger
	flowID := r.flow.ID()
	start := time.Now()
	s.opts.Metrics.RunStarted()

	env := &Env{
		Store:   r.store,
		Driver:  s.driver,
		Policy:  r.opts.Policy,
		Turn:    r.opts.Turn,
		Counter: s.opts.Counter,
		Logger:  log,
	}
	steps := core.NewLimiter("steps", s.opts.MaxSteps)
	msgs := core.NewLimiter("messages", s.opts.MaxMessages)

	err := r.walk(ctx, env, steps, msgs)

	final := StateCompleted
	reason := ""
	switch {
	case err == nil:
	case errors.Is(err, core.ErrLoopLimitExceeded):
		final, reason = StateAborted, ReasonLoopLimit
	case ctx.Err() != nil:
		final, reason = StateAborted, ReasonCanceled
		err = ctx.Err()
	default:
		final, reason = StateAborted, err.Error()
	}
	r.update(func(st *Status) {
		st.State = final
		st.StepID = ""
		st.Reason = reason
		st.Steps = steps.Count()
		st.Messages = msgs.Count()
	})

	s.opts.Metrics.RunFinished(string(final))
	log.Info(
		"flow.run.finished",
		"flow_id", flowID,
		"state", string(final),
		"reason", reason,
		"steps", steps.Count(),
		"messages", msgs.Count(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (r *Run) walk(ctx context.Context, env *Env, steps, msgs *core.Limiter) error {
	startID, ok := r.startStep()
	if !ok {
		return nil
	}
	queue := []string{startID}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := queue[0]
		queue = queue[1:]

		if err := steps.Increment(); err != nil {
			return err
		}
		r.update(func(st *Status) { st.Steps = steps.Count() })

		ev, next, err := r.executeStep(ctx, env, id, msgs)
		if ev != nil && r.opts.OnStep != nil {
			r.opts.OnStep(*ev)
		}
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}
	return nil
}

func (r *Run) startStep() (string, bool) {
	if r.opts.EntryStepID != "" {
		if _, ok := r.flow.Step(r.opts.EntryStepID); ok {
			return r.opts.EntryStepID, true
		}
	}
	s, ok := r.flow.StartStep()
	return s.ID, ok
}

// executeStep runs one step under the flow's read lock and returns the ids
// to enqueue. A step deleted before it was reached is skipped.
func (r *Run) executeStep(ctx context.Context, env *Env, id string, msgs *core.Limiter) (*StepEvent, []string, error) {
	log := r.sched.opts.Logger

	r.flow.mu.RLock()
	defer r.flow.mu.RUnlock()

	sp := r.flow.stepLocked(id)
	if sp == nil {
		log.Warn("flow.step.missing", "flow_id", r.flow.id, "step_id", id)
		return nil, nil, nil
	}
	step := sp.clone()
	kind, ok := LookupKind(step.Type)
	if !ok {
		return nil, nil, fmt.Errorf("step %s: %w: %q", id, ErrUnknownStepType, step.Type)
	}

	r.update(func(st *Status) {
		st.State = StateRunning
		st.StepID = id
	})

	before := r.store.Appended()
	start := time.Now()
	outputs, err := kind.Execute(ctx, env, step.Data)
	dur := time.Since(start)
	appended := int(r.store.Appended() - before)

	r.sched.opts.Metrics.Step(step.Type, err)
	log.Debug(
		"flow.step.completed",
		"flow_id", r.flow.id,
		"step_id", id,
		"type", step.Type,
		"outputs", outputs,
		"appended", appended,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)
	ev := &StepEvent{StepID: id, Type: step.Type, Outputs: outputs, Duration: dur, Err: err}

	guardErr := msgs.Add(appended)
	r.update(func(st *Status) { st.Messages = msgs.Count() })
	if err != nil {
		return ev, nil, err
	}
	if guardErr != nil {
		return ev, nil, guardErr
	}

	var next []string
	for _, out := range outputs {
		for _, c := range r.flow.outgoingLocked(id, out) {
			next = append(next, c.To)
		}
	}
	return ev, next, nil
}
