package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/message"
)

// ErrAlreadyRunning is returned when a flow already has an active run, or
// when a conversation is already being written by another run, turn or
// edit.
var ErrAlreadyRunning = errors.New("already running")

// Options holds dependency overrides passed to New().
type Options struct {
	Logger logging.Logger
}

// Handle observes one asynchronous flow run.
type Handle struct {
	// ID identifies the run in logs.
	ID   string
	Run  *flow.Run
	done chan struct{}
	err  error
}

// Done is closed once the run finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finished and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// TurnFunc is the work of one chat turn. It is called only once the turn
// owns the conversation, so it may append to it freely.
type TurnFunc func(ctx context.Context) (*chat.Turn, error)

type writerKind string

const (
	writerFlow writerKind = "flow"
	writerTurn writerKind = "turn"
	writerEdit writerKind = "edit"
)

// writer owns a conversation while it is being mutated.
type writer struct {
	kind   writerKind
	owner  string
	cancel context.CancelFunc
	done   chan struct{}
}

type activeRun struct {
	handle *Handle
	cancel context.CancelFunc
}

// Runner coordinates flow runs, chat turns and alternative edits. Each
// conversation has at most one writer at a time: a new turn supersedes the
// turn in progress, anything else is rejected with ErrAlreadyRunning.
// Public methods are safe for concurrent use.
type Runner struct {
	sched  *flow.Scheduler
	logger logging.Logger

	activeRuns  map[string]*activeRun
	activeTurns map[string]*writer
	writers     map[*message.Store]*writer
	// last holds the final status of each flow's most recent run.
	last map[string]flow.Status
	mu   sync.Mutex
}

// New constructs a Runner executing flows through sched.
func New(sched *flow.Scheduler, optFns ...func(o *Options)) *Runner {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		sched:       sched,
		logger:      core.EnsureLogger(opts.Logger),
		activeRuns:  make(map[string]*activeRun),
		activeTurns: make(map[string]*writer),
		writers:     make(map[*message.Store]*writer),
		last:        make(map[string]flow.Status),
	}
}

// busyError reports the writer owning a conversation.
func busyError(w *writer) error {
	return fmt.Errorf("conversation in use by %s %s: %w", w.kind, w.owner, ErrAlreadyRunning)
}

// releaseLocked drops w as the writer of store.
func (r *Runner) releaseLocked(store *message.Store, w *writer) {
	if r.writers[store] == w {
		delete(r.writers, store)
	}
}

// Start launches an asynchronous run of f against store.
func (r *Runner) Start(ctx context.Context, f *flow.Flow, store *message.Store, optFns ...func(o *flow.RunOptions)) (*Handle, error) {
	return r.StartWith(ctx, r.sched, f, store, optFns...)
}

// StartWith is Start with an explicit scheduler, e.g. one bound to the
// model of a specific agent.
func (r *Runner) StartWith(
	ctx context.Context,
	sched *flow.Scheduler,
	f *flow.Flow,
	store *message.Store,
	optFns ...func(o *flow.RunOptions),
) (*Handle, error) {
	if sched == nil {
		return nil, fmt.Errorf("flow %s: no scheduler configured", f.ID())
	}
	flowID := f.ID()

	r.mu.Lock()
	if _, busy := r.activeRuns[flowID]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("flow %s: %w", flowID, ErrAlreadyRunning)
	}
	if w, busy := r.writers[store]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("flow %s: %w", flowID, busyError(w))
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:   util.NewID(),
		Run:  sched.NewRun(f, store, optFns...),
		done: make(chan struct{}),
	}
	w := &writer{kind: writerFlow, owner: flowID, cancel: cancel, done: h.done}
	r.activeRuns[flowID] = &activeRun{handle: h, cancel: cancel}
	r.writers[store] = w
	r.mu.Unlock()

	r.logger.Info("runner.run.started", "flow_id", flowID, "run_id", h.ID)

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.activeRuns, flowID)
			r.releaseLocked(store, w)
			r.last[flowID] = h.Run.Status()
			r.mu.Unlock()
			close(h.done)
		}()

		h.err = h.Run.Execute(ctx)
		if h.err != nil {
			r.logger.Warn("runner.run.aborted", "flow_id", flowID, "run_id", h.ID, "error", h.err.Error())
		}
	}()

	return h, nil
}

// Cancel stops the active run of a flow. Messages already committed stay.
func (r *Runner) Cancel(flowID string) error {
	r.mu.Lock()
	active, exists := r.activeRuns[flowID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run of flow %s: %w", flowID, core.ErrNotFound)
	}

	active.cancel()
	r.logger.Info("runner.run.canceled", "flow_id", flowID, "run_id", active.handle.ID)

	return nil
}

// Active returns the handle of the flow's active run.
func (r *Runner) Active(flowID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, ok := r.activeRuns[flowID]
	if !ok {
		return nil, false
	}
	return active.handle, true
}

// Status reports the state of the flow's active run. Without one it
// reports how the most recent run ended, or Idle if the flow never ran.
func (r *Runner) Status(flowID string) flow.Status {
	r.mu.Lock()
	active, ok := r.activeRuns[flowID]
	last, ran := r.last[flowID]
	r.mu.Unlock()

	switch {
	case ok:
		return active.handle.Run.Status()
	case ran:
		return last
	default:
		return flow.Status{State: flow.StateIdle}
	}
}

// Edit applies fn to f. While a run is active every graph mutation waits
// for the executing step to finish, and steps reached later see the edit.
func (r *Runner) Edit(f *flow.Flow, fn func(f *flow.Flow) error) error {
	_, running := r.Active(f.ID())
	if err := fn(f); err != nil {
		return err
	}
	r.logger.Debug("runner.flow.edited", "flow_id", f.ID(), "running", running)
	return nil
}

// Run executes f synchronously under the same ownership rules as Start.
func (r *Runner) Run(
	ctx context.Context,
	sched *flow.Scheduler,
	f *flow.Flow,
	store *message.Store,
	optFns ...func(o *flow.RunOptions),
) (*flow.Run, error) {
	h, err := r.StartWith(ctx, sched, f, store, optFns...)
	if err != nil {
		return nil, err
	}
	return h.Run, h.Wait()
}

// Turn drives one chat turn through fn. A turn already in progress on the
// same conversation is canceled first, and fn starts only after it has
// stopped touching store. A conversation owned by a flow run or an edit
// rejects the turn with ErrAlreadyRunning.
func (r *Runner) Turn(ctx context.Context, chatID string, store *message.Store, fn TurnFunc) (*chat.Turn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	current := &writer{kind: writerTurn, owner: chatID, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.writers[store]
	if prev != nil && prev.kind != writerTurn {
		r.mu.Unlock()
		return nil, fmt.Errorf("chat %s: %w", chatID, busyError(prev))
	}
	r.writers[store] = current
	r.activeTurns[chatID] = current
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.releaseLocked(store, current)
		if r.activeTurns[chatID] == current {
			delete(r.activeTurns, chatID)
		}
		r.mu.Unlock()
		close(current.done)
	}()

	if prev != nil {
		r.logger.Info("runner.turn.superseded", "chat_id", chatID, "previous", prev.owner)
		prev.cancel()
		<-prev.done
	}
	// Superseded while waiting for the previous turn.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return fn(ctx)
}

// Exclusive applies fn to store while no run or turn writes to it.
func (r *Runner) Exclusive(owner string, store *message.Store, fn func(store *message.Store) error) error {
	current := &writer{kind: writerEdit, owner: owner, cancel: func() {}, done: make(chan struct{})}

	r.mu.Lock()
	if w, busy := r.writers[store]; busy {
		r.mu.Unlock()
		return busyError(w)
	}
	r.writers[store] = current
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.releaseLocked(store, current)
		r.mu.Unlock()
		close(current.done)
	}()

	return fn(store)
}

// CancelTurn stops the chat's turn in progress, if any.
func (r *Runner) CancelTurn(chatID string) bool {
	r.mu.Lock()
	active, ok := r.activeTurns[chatID]
	r.mu.Unlock()

	if ok {
		active.cancel()
	}
	return ok
}

// Shutdown cancels every active run and turn and waits for the runs.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.activeRuns))
	for _, active := range r.activeRuns {
		active.cancel()
		handles = append(handles, active.handle)
	}
	for _, t := range r.activeTurns {
		t.cancel()
	}
	r.mu.Unlock()

	for _, h := range handles {
		<-h.done
	}
}
