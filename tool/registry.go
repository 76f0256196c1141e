package tool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Name is reported as Info.Source.
	Name   string
	Logger logging.Logger
}

// Registry is an in-process Provider backed by Tool implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	opts  RegistryOptions
}

// NewRegistry creates a registry holding the given tools. Duplicate names panic
// since they are a programming error at construction time.
func NewRegistry(tools []Tool, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Name: "local", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = core.EnsureLogger(opts.Logger)

	r := &Registry{tools: make(map[string]Tool, len(tools)), opts: opts}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Tools implements Provider.
func (r *Registry) Tools(_ context.Context) ([]Info, error) {
	list := r.List()
	out := make([]Info, len(list))
	for i, t := range list {
		out[i] = Info{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters(), Source: r.opts.Name}
	}
	return out, nil
}

// Call implements Provider. Panics inside a tool are recovered and reported
// as EXECUTION_ERROR.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (result any, err error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, NewToolError(name, "tool not found", CodeNotFound)
	}

	start := time.Now()
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.opts.Logger.Error("tool.call.panic", "tool", name, "recover", rec, "stack", string(debug.Stack()))
				result, err = nil, NewToolError(name, fmt.Sprintf("panic: %v", rec), CodeExecution)
			}
		}()
		result, err = t.Call(ctx, args)
	}()

	r.opts.Logger.Debug("tool.call.executed", "tool", name, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)

	return result, err
}

// Join combines providers. Listings are merged; the first provider offering
// a name handles calls to it.
func Join(providers ...Provider) Provider {
	return multiProvider(providers)
}

type multiProvider []Provider

func (m multiProvider) Tools(ctx context.Context) ([]Info, error) {
	seen := map[string]struct{}{}
	var out []Info
	for _, p := range m {
		infos, err := p.Tools(ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if _, dup := seen[info.Name]; dup {
				continue
			}
			seen[info.Name] = struct{}{}
			out = append(out, info)
		}
	}
	return out, nil
}

func (m multiProvider) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	for _, p := range m {
		infos, err := p.Tools(ctx)
		if err != nil {
			return nil, AsToolError(name, err)
		}
		for _, info := range infos {
			if info.Name == name {
				return p.Call(ctx, name, args)
			}
		}
	}
	return nil, NewToolError(name, "tool not found", CodeNotFound)
}
