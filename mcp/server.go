package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/tool"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	Name    string
	Version string
	Logger  logging.Logger
}

// NewServer exposes every tool offered by provider as an MCP tool. The tool
// set is captured once; tools added to the provider later are not served.
func NewServer(ctx context.Context, provider tool.Provider, optFns ...func(o *ServerOptions)) (*server.MCPServer, error) {
	opts := ServerOptions{Name: "flowmesh", Version: "0.1.0", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	log := core.EnsureLogger(opts.Logger)

	infos, err := provider.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	s := server.NewMCPServer(opts.Name, opts.Version, server.WithToolCapabilities(false))
	for _, info := range infos {
		schema, err := json.Marshal(inputSchema(info.Parameters))
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
		}
		s.AddTool(mcpgo.NewToolWithRawSchema(info.Name, info.Description, schema), handler(provider, info.Name, log))
	}
	return s, nil
}

// ServeStdio serves provider over stdin/stdout until the input closes.
func ServeStdio(ctx context.Context, provider tool.Provider, optFns ...func(o *ServerOptions)) error {
	s, err := NewServer(ctx, provider, optFns...)
	if err != nil {
		return err
	}
	return server.ServeStdio(s)
}

func inputSchema(params map[string]any) map[string]any {
	if len(params) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return params
}

func handler(provider tool.Provider, name string, log logging.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		value, err := provider.Call(ctx, name, args)
		if err != nil {
			log.Warn("mcp.serve.tool_failed", "tool", name, "error", err.Error())
			return mcpgo.NewToolResultError(tool.AsToolError(name, err).Message), nil
		}
		log.Debug("mcp.serve.tool_called", "tool", name)
		return toResult(value)
	}
}

func toResult(value any) (*mcpgo.CallToolResult, error) {
	switch v := value.(type) {
	case nil:
		return mcpgo.NewToolResultText(""), nil
	case string:
		return mcpgo.NewToolResultText(v), nil
	case []tool.TextContent:
		res := &mcpgo.CallToolResult{}
		for _, tc := range v {
			res.Content = append(res.Content, mcpgo.NewTextContent(tc.Text))
		}
		return res, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode tool result: %w", err)
		}
		return mcpgo.NewToolResultText(string(b)), nil
	}
}
