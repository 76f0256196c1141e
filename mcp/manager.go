package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/tool"
)

// Client is the subset of an MCP client the Manager needs.
type Client interface {
	ListTools(ctx context.Context, request mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Close() error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// ClientName and ClientVersion are reported during initialization.
	ClientName    string
	ClientVersion string
	Logger        logging.Logger
}

// Manager multiplexes MCP servers behind tool.Provider. When two servers
// offer the same tool name, the server added first handles it.
type Manager struct {
	opts ManagerOptions

	mu      sync.RWMutex
	order   []string
	clients map[string]Client
	owners  map[string]string
}

// NewManager creates a manager without servers.
func NewManager(optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		ClientName:    "flowmesh",
		ClientVersion: "0.1.0",
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = core.EnsureLogger(opts.Logger)

	return &Manager{
		opts:    opts,
		clients: make(map[string]Client),
		owners:  make(map[string]string),
	}
}

// Connect starts a client for every configured server. Servers that fail to
// connect are logged and skipped; their errors are joined into the result.
func (m *Manager) Connect(ctx context.Context, cfg *Config) error {
	var errs []error
	for _, name := range cfg.Names() {
		c, err := newClient(cfg.MCPServers[name])
		if err == nil {
			err = m.Add(ctx, name, c)
			if err != nil {
				_ = c.Close()
			}
		}
		if err != nil {
			m.opts.Logger.Error("mcp.server.connect_failed", "server", name, "error", err.Error())
			errs = append(errs, fmt.Errorf("mcp server %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func newClient(sc ServerConfig) (*mcpclient.Client, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if sc.Command != "" {
		return mcpclient.NewStdioMCPClient(sc.Command, sc.Environ(), sc.Args...)
	}
	if sc.Transport == TransportSSE {
		return mcpclient.NewSSEMCPClient(sc.URL, transport.WithHeaders(sc.Headers))
	}
	return mcpclient.NewStreamableHttpClient(sc.URL, transport.WithHTTPHeaders(sc.Headers))
}

// Add starts and initializes c and registers it under name.
func (m *Manager) Add(ctx context.Context, name string, c *mcpclient.Client) error {
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: m.opts.ClientName, Version: m.opts.ClientVersion}
	res, err := c.Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	m.opts.Logger.Info("mcp.server.connected", "server", name, "remote", res.ServerInfo.Name, "protocol", res.ProtocolVersion)
	return m.AddClient(name, c)
}

// AddClient registers an already initialized client.
func (m *Manager) AddClient(name string, c Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.clients[name]; dup {
		return fmt.Errorf("mcp server %q already registered", name)
	}
	m.clients[name] = c
	m.order = append(m.order, name)
	return nil
}

// Servers returns registered server names in registration order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Tools implements tool.Provider. A server that fails to list is logged and
// skipped so one broken server does not hide the others.
func (m *Manager) Tools(ctx context.Context) ([]tool.Info, error) {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	clients := make(map[string]Client, len(m.clients))
	for k, v := range m.clients {
		clients[k] = v
	}
	m.mu.RUnlock()

	owners := make(map[string]string)
	var out []tool.Info
	for _, server := range order {
		res, err := clients[server].ListTools(ctx, mcpgo.ListToolsRequest{})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.opts.Logger.Warn("mcp.tools.list_failed", "server", server, "error", err.Error())
			continue
		}
		for _, t := range res.Tools {
			if _, dup := owners[t.Name]; dup {
				continue
			}
			owners[t.Name] = server
			out = append(out, tool.Info{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaOf(t),
				Source:      server,
			})
		}
	}

	m.mu.Lock()
	m.owners = owners
	m.mu.Unlock()

	return out, nil
}

// Call implements tool.Provider. Text content blocks are returned as
// []tool.TextContent; results flagged isError become EXECUTION_ERROR tool
// errors carrying the server's text.
func (m *Manager) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	server, c, ok := m.owner(name)
	if !ok {
		if _, err := m.Tools(ctx); err != nil {
			return nil, tool.AsToolError(name, err)
		}
		if server, c, ok = m.owner(name); !ok {
			return nil, tool.NewToolError(name, "tool not found", tool.CodeNotFound)
		}
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		m.opts.Logger.Error("mcp.tool.call_failed", "server", server, "tool", name, "error", err.Error())
		return nil, tool.NewToolError(name, err.Error(), tool.CodeDispatch)
	}

	content := convertContent(res.Content)
	if res.IsError {
		return nil, tool.NewToolError(name, joinText(content), tool.CodeExecution)
	}
	return content, nil
}

func (m *Manager) owner(name string) (string, Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.owners[name]
	if !ok {
		return "", nil, false
	}
	c, ok := m.clients[server]
	return server, c, ok
}

// Close closes every client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range m.order {
		if err := m.clients[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.order = nil
	m.clients = make(map[string]Client)
	m.owners = make(map[string]string)
	return errors.Join(errs...)
}

func schemaOf(t mcpgo.Tool) map[string]any {
	raw := t.RawInputSchema
	if raw == nil {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		raw = b
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return schema
}

// convertContent keeps text blocks in the flowmesh shape and passes other
// block kinds through unchanged.
func convertContent(content []mcpgo.Content) []any {
	out := make([]any, 0, len(content))
	for _, c := range content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			out = append(out, tool.TextContent{Type: "text", Text: tc.Text})
			continue
		}
		out = append(out, c)
	}
	return out
}

func joinText(content []any) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(tool.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
