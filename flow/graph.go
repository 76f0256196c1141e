package flow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
)

// ErrUnknownStepType is returned when a step names a kind that is not registered.
var ErrUnknownStepType = errors.New("unknown step type")

// Step is one node of a flow. Type is fixed at creation; Data is mutable.
type Step struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type" yaml:"type"`
	X         float64        `json:"x" yaml:"x"`
	Y         float64        `json:"y" yaml:"y"`
	Minimized bool           `json:"isMinimized" yaml:"isMinimized"`
	Data      map[string]any `json:"data" yaml:"data"`
}

func (s *Step) clone() Step {
	c := *s
	c.Data = cloneData(s.Data)
	return c
}

// Connection links an output of one step to another step.
type Connection struct {
	From       string `json:"from" yaml:"from"`
	To         string `json:"to" yaml:"to"`
	OutputName string `json:"outputName" yaml:"outputName"`
}

// Options configures a Flow.
type Options struct {
	// ID of the flow. Generated when empty.
	ID string
	// IDFunc generates step ids.
	IDFunc func() string
}

// Flow is a directed graph of steps. All methods are safe for concurrent
// use; a running Scheduler holds the read lock while a step executes, so
// edits wait until the step finished.
type Flow struct {
	mu          sync.RWMutex
	id          string
	name        string
	steps       []*Step
	connections []Connection
	idFunc      func() string
}

// New creates an empty flow.
func New(name string, optFns ...func(o *Options)) *Flow {
	opts := Options{IDFunc: util.NewID}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ID == "" {
		opts.ID = util.NewID()
	}
	return &Flow{id: opts.ID, name: name, idFunc: opts.IDFunc}
}

// ID returns the flow id.
func (f *Flow) ID() string { return f.id }

// Name returns the flow name.
func (f *Flow) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// SetName renames the flow.
func (f *Flow) SetName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
}

// AddStep creates a step of the given kind. Missing data keys are filled
// from the kind's defaults.
func (f *Flow) AddStep(kind string, x, y float64, data map[string]any) (Step, error) {
	k, ok := LookupKind(kind)
	if !ok {
		return Step{}, fmt.Errorf("%w: %q", ErrUnknownStepType, kind)
	}

	merged := cloneData(k.Defaults())
	if merged == nil {
		merged = map[string]any{}
	}
	for key, v := range data {
		merged[key] = v
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	s := &Step{ID: f.idFunc(), Type: kind, X: x, Y: y, Data: merged}
	f.steps = append(f.steps, s)
	return s.clone(), nil
}

// MoveStep changes a step's position.
func (f *Flow) MoveStep(id string, x, y float64) error {
	return f.mutateStep(id, func(s *Step) { s.X, s.Y = x, y })
}

// SetMinimized toggles the minimized flag of a step.
func (f *Flow) SetMinimized(id string, minimized bool) error {
	return f.mutateStep(id, func(s *Step) { s.Minimized = minimized })
}

// UpdateStepData replaces a step's configuration.
func (f *Flow) UpdateStepData(id string, data map[string]any) error {
	data = cloneData(data)
	if data == nil {
		data = map[string]any{}
	}
	return f.mutateStep(id, func(s *Step) { s.Data = data })
}

func (f *Flow) mutateStep(id string, fn func(s *Step)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.stepLocked(id)
	if s == nil {
		return fmt.Errorf("step %s: %w", id, core.ErrNotFound)
	}
	fn(s)
	return nil
}

// DeleteStep removes a step and every connection touching it.
func (f *Flow) DeleteStep(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	for i, s := range f.steps {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("step %s: %w", id, core.ErrNotFound)
	}
	f.steps = append(f.steps[:idx], f.steps[idx+1:]...)

	kept := f.connections[:0]
	for _, c := range f.connections {
		if c.From != id && c.To != id {
			kept = append(kept, c)
		}
	}
	f.connections = kept
	return nil
}

// AddConnection links output of from to to. It fails with
// core.ErrInvalidConnection when a step is missing, the output is not
// declared by the source kind or the connection already exists.
func (f *Flow) AddConnection(from, to, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := Connection{From: from, To: to, OutputName: output}
	if err := f.validateLocked(c); err != nil {
		return err
	}
	f.connections = append(f.connections, c)
	return nil
}

func (f *Flow) validateLocked(c Connection) error {
	src := f.stepLocked(c.From)
	if src == nil {
		return fmt.Errorf("%w: source step %s does not exist", core.ErrInvalidConnection, c.From)
	}
	if f.stepLocked(c.To) == nil {
		return fmt.Errorf("%w: target step %s does not exist", core.ErrInvalidConnection, c.To)
	}
	k, ok := LookupKind(src.Type)
	if !ok || !declares(k, c.OutputName) {
		return fmt.Errorf("%w: step type %s has no output %q", core.ErrInvalidConnection, src.Type, c.OutputName)
	}
	for _, existing := range f.connections {
		if existing == c {
			return fmt.Errorf("%w: %s -[%s]-> %s already exists", core.ErrInvalidConnection, c.From, c.OutputName, c.To)
		}
	}
	return nil
}

// DeleteConnection removes a connection.
func (f *Flow) DeleteConnection(from, to, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := Connection{From: from, To: to, OutputName: output}
	for i, c := range f.connections {
		if c == target {
			f.connections = append(f.connections[:i], f.connections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("connection %s -[%s]-> %s: %w", from, output, to, core.ErrNotFound)
}

// Step returns a copy of the step with the given id.
func (f *Flow) Step(id string) (Step, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.stepLocked(id)
	if s == nil {
		return Step{}, false
	}
	return s.clone(), true
}

// Steps returns copies of all steps in insertion order.
func (f *Flow) Steps() []Step {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Step, len(f.steps))
	for i, s := range f.steps {
		out[i] = s.clone()
	}
	return out
}

// Connections returns all connections in insertion order.
func (f *Flow) Connections() []Connection {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Connection(nil), f.connections...)
}

// Outgoing returns the connections leaving id through output, in order.
func (f *Flow) Outgoing(id, output string) []Connection {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.outgoingLocked(id, output)
}

func (f *Flow) outgoingLocked(id, output string) []Connection {
	var out []Connection
	for _, c := range f.connections {
		if c.From == id && c.OutputName == output {
			out = append(out, c)
		}
	}
	return out
}

// StartStep returns the first step without incoming connections, or the
// first step when every step has one.
func (f *Flow) StartStep() (Step, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.steps) == 0 {
		return Step{}, false
	}
	incoming := make(map[string]bool, len(f.connections))
	for _, c := range f.connections {
		incoming[c.To] = true
	}
	for _, s := range f.steps {
		if !incoming[s.ID] {
			return s.clone(), true
		}
	}
	return f.steps[0].clone(), true
}

func (f *Flow) stepLocked(id string) *Step {
	for _, s := range f.steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func declares(k Kind, output string) bool {
	for _, o := range k.Outputs() {
		if o == output {
			return true
		}
	}
	return false
}

// cloneData deep-copies nested maps and slices of decoded JSON data.
func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneData(t)
	case []any:
		c := make([]any, len(t))
		for i := range t {
			c[i] = cloneValue(t[i])
		}
		return c
	default:
		return v
	}
}
