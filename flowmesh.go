// Package flowmesh wires the flowmesh components into a ready to use
// application: a completion model, local and MCP tools, a record store for
// agents, chats and flows, metrics and a runner for flow runs and chat
// turns. Most programs call New with a loaded config.Config:
//
//	cfg, _ := config.Load("")
//	app, err := flowmesh.New(ctx, cfg)
//	...
//	defer app.Close()
//	run, err := app.RunFlow(ctx, f, message.NewStore(), agent.DefaultID)
//
// The CLI (package cli) and HTTP server (package server) are thin layers
// over App.
package flowmesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/config"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/mcp"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/metrics"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/model/anthropic"
	"github.com/hupe1980/flowmesh/model/openai"
	"github.com/hupe1980/flowmesh/runner"
	"github.com/hupe1980/flowmesh/store"
	"github.com/hupe1980/flowmesh/store/redis"
	"github.com/hupe1980/flowmesh/store/sqlite"
	"github.com/hupe1980/flowmesh/tokens"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/tool/builtin"
)

// Options overrides what New would otherwise build from the config.
type Options struct {
	// Logger defaults to cfg.Logger(nil).
	Logger logging.Logger
	// Model replaces the configured completion backend.
	Model model.Model
	// Store replaces the configured record store.
	Store core.RecordStore
	// Tools are served in addition to builtin and MCP tools.
	Tools []tool.Tool
	// Providers are consulted after the local tools and before MCP servers.
	Providers []tool.Provider
	// SkipMCP leaves mcp_config.json unread.
	SkipMCP bool
	// Now is the clock used for agent instructions.
	Now func() time.Time
}

// App aggregates the configured components.
type App struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *metrics.Metrics
	Model   model.Model
	Tools   tool.Provider
	MCP     *mcp.Manager
	Counter tokens.Counter
	Store   core.RecordStore
	Agents  *store.Repository[agent.Agent]
	Chats   *store.Repository[chat.Record]
	Flows   *store.Repository[flow.Data]
	Runner  *runner.Runner

	now     func() time.Time
	interp  *chat.Interpreter
	mu      sync.Mutex
	drivers map[string]*chat.Driver
	scheds  map[string]*flow.Scheduler
	closers []func() error
}

// New builds an App from cfg. A nil cfg uses config.Default().
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = cfg.Logger(nil)
	}

	a := &App{
		Config:  cfg,
		Logger:  opts.Logger,
		Metrics: metrics.New(),
		Counter: tokens.New(cfg.Tokens.Encoding),
		now:     opts.Now,
		drivers: make(map[string]*chat.Driver),
		scheds:  make(map[string]*flow.Scheduler),
	}

	a.Model = opts.Model
	if a.Model == nil {
		m, err := NewModel(cfg.Model, "")
		if err != nil {
			return nil, err
		}
		a.Model = m
	}

	var providers []tool.Provider
	local := append([]tool.Tool(nil), opts.Tools...)
	if cfg.MCP.Builtin {
		local = append(local, builtin.Defaults()...)
	}
	if len(local) > 0 {
		providers = append(providers, tool.NewRegistry(local, func(o *tool.RegistryOptions) {
			o.Name = "builtin"
			o.Logger = a.Logger
		}))
	}
	providers = append(providers, opts.Providers...)
	if !opts.SkipMCP {
		mcpCfg, err := mcp.LoadConfig(cfg.MCP.ConfigPath)
		if err != nil {
			return nil, err
		}
		a.MCP = mcp.NewManager(func(o *mcp.ManagerOptions) { o.Logger = a.Logger })
		if err := a.MCP.Connect(ctx, mcpCfg); err != nil {
			a.Logger.Warn("flowmesh.mcp.partial", "error", err.Error())
		}
		a.closers = append(a.closers, a.MCP.Close)
		providers = append(providers, a.MCP)
	}
	a.Tools = tool.Join(providers...)
	a.interp = chat.NewInterpreter(a.Tools, func(o *chat.InterpreterOptions) {
		o.Logger = a.Logger
		o.Metrics = a.Metrics
	})

	a.Store = opts.Store
	if a.Store == nil {
		s, closer, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Store = s
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.Agents = store.NewRepository[agent.Agent](a.Store, core.KindAgent)
	a.Chats = store.NewRepository[chat.Record](a.Store, core.KindChat)
	a.Flows = store.NewRepository[flow.Data](a.Store, core.KindFlow)

	a.Runner = runner.New(a.scheduler(""), func(o *runner.Options) {
		o.Logger = a.Logger
	})

	a.Logger.Info(
		"flowmesh.started",
		"model", a.Model.Info().Name,
		"provider", a.Model.Info().Provider,
		"store", cfg.Store.Driver,
	)
	return a, nil
}

// NewModel builds the configured completion backend. A non-empty name
// overrides cfg.Name.
func NewModel(cfg config.ModelConfig, name string) (model.Model, error) {
	if name == "" {
		name = cfg.Name
	}
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		}), nil
	case "mock", "":
		return model.NewMockBackend(func(o *model.MockBackendOptions) {
			if name != "" {
				o.Name = name
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// OpenStore opens the configured record store. The returned closer may be nil.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (core.RecordStore, func() error, error) {
	switch cfg.Driver {
	case "memory", "":
		return store.NewMemoryStore(), nil, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		s, err := redis.Open(ctx, func(o *redis.Options) {
			o.Addr = cfg.Redis.Addr
			o.Password = cfg.Redis.Password
			o.DB = cfg.Redis.DB
			o.Prefix = cfg.Redis.Prefix
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// driver returns the driver for a model name, "" being the default model.
func (a *App) driver(modelName string) *chat.Driver {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.driverLocked(modelName)
}

func (a *App) driverLocked(modelName string) *chat.Driver {
	if d, ok := a.drivers[modelName]; ok {
		return d
	}
	m := a.Model
	if modelName != "" && modelName != m.Info().Name {
		if alt, err := NewModel(a.Config.Model, modelName); err == nil {
			m = alt
		} else {
			a.Logger.Warn("flowmesh.model.fallback", "model", modelName, "error", err.Error())
		}
	}
	d := chat.NewDriver(m, a.interp, func(o *chat.DriverOptions) {
		o.MaxIterations = a.Config.Turn.MaxIterations
		o.Stream = a.Config.Model.Stream
		o.Logger = a.Logger
		o.Metrics = a.Metrics
	})
	a.drivers[modelName] = d
	return d
}

func (a *App) scheduler(modelName string) *flow.Scheduler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.scheds[modelName]; ok {
		return s
	}
	s := flow.NewScheduler(a.driverLocked(modelName), func(o *flow.SchedulerOptions) {
		o.MaxSteps = a.Config.Flow.MaxSteps
		o.MaxMessages = a.Config.Flow.MaxMessages
		o.Counter = a.Counter
		o.Logger = a.Logger
		o.Metrics = a.Metrics
	})
	a.scheds[modelName] = s
	return s
}

// Agent loads an agent. An empty id or a missing default agent yields
// agent.Default().
func (a *App) Agent(ctx context.Context, id string) (agent.Agent, error) {
	if id == "" {
		id = agent.DefaultID
	}
	ag, err := a.Agents.Load(ctx, id)
	if err != nil {
		if id == agent.DefaultID && errors.Is(err, core.ErrNotFound) {
			return agent.Default(), nil
		}
		return agent.Agent{}, err
	}
	return ag, nil
}

// Driver returns the turn driver answering for ag.
func (a *App) Driver(ag agent.Agent) *chat.Driver { return a.driver(ag.Model) }

// Scheduler returns the flow scheduler answering prompts with ag's model.
func (a *App) Scheduler(ag agent.Agent) *flow.Scheduler { return a.scheduler(ag.Model) }

// RunOptions returns the run options applying ag's policy and instructions.
func (a *App) RunOptions(ag agent.Agent) func(o *flow.RunOptions) {
	return func(o *flow.RunOptions) {
		o.Policy = ag.Tools
		o.Turn = append(o.Turn, ag.DriverOptions(a.now()))
	}
}

// RunFlow executes f synchronously as agentID.
func (a *App) RunFlow(ctx context.Context, f *flow.Flow, s *message.Store, agentID string, optFns ...func(o *flow.RunOptions)) (*flow.Run, error) {
	ag, err := a.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	optFns = append([]func(o *flow.RunOptions){a.RunOptions(ag)}, optFns...)
	return a.Runner.Run(ctx, a.Scheduler(ag), f, s, optFns...)
}

// StartFlow launches f asynchronously as agentID through the runner.
func (a *App) StartFlow(ctx context.Context, f *flow.Flow, s *message.Store, agentID string, optFns ...func(o *flow.RunOptions)) (*runner.Handle, error) {
	ag, err := a.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	optFns = append([]func(o *flow.RunOptions){a.RunOptions(ag)}, optFns...)
	return a.Runner.StartWith(ctx, a.Scheduler(ag), f, s, optFns...)
}

// ChatTurn appends content as a user message and drives one turn of the
// chat as agentID. A turn already running in the same chat is canceled and
// the message is appended only after it stopped. A flow run on the same
// conversation rejects the turn with runner.ErrAlreadyRunning.
func (a *App) ChatTurn(
	ctx context.Context,
	chatID, agentID string,
	s *message.Store,
	content string,
	onFragment func(string),
) (*chat.Turn, error) {
	ag, err := a.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	d := a.Driver(ag)
	return a.Runner.Turn(ctx, chatID, s, func(ctx context.Context) (*chat.Turn, error) {
		if content != "" {
			s.AddMessage(core.RoleUser, content)
		}
		return d.Run(ctx, s, ag.Tools, ag.DriverOptions(a.now()), func(o *chat.DriverOptions) {
			o.OnFragment = onFragment
		})
	})
}

// Regenerate adds an alternative to message msgID of the chat and
// regenerates everything after it as agentID. See chat.Driver.Regenerate.
func (a *App) Regenerate(
	ctx context.Context,
	chatID, agentID string,
	s *message.Store,
	msgID, content string,
	onFragment func(string),
) (*chat.Turn, message.Alternative, error) {
	ag, err := a.Agent(ctx, agentID)
	if err != nil {
		return nil, message.Alternative{}, err
	}
	d := a.Driver(ag)
	var alt message.Alternative
	turn, err := a.Runner.Turn(ctx, chatID, s, func(ctx context.Context) (*chat.Turn, error) {
		var turn *chat.Turn
		var err error
		turn, alt, err = d.Regenerate(ctx, s, msgID, content, ag.Tools, ag.DriverOptions(a.now()), func(o *chat.DriverOptions) {
			o.OnFragment = onFragment
		})
		return turn, err
	})
	return turn, alt, err
}

// SetActiveAlternative selects a variant of message msgID unless the
// conversation is being written by a run or turn.
func (a *App) SetActiveAlternative(chatID string, s *message.Store, msgID string, index int) error {
	return a.Runner.Exclusive(chatID, s, func(s *message.Store) error {
		return s.SetActiveAlternative(msgID, index)
	})
}

// Close shuts down runs and releases MCP clients and the store.
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Shutdown()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
