// Package mcp connects flowmesh to Model Context Protocol servers.
//
// Manager is a tool.Provider over one or more MCP clients (stdio
// subprocesses, streamable HTTP or SSE endpoints) described by an
// mcp_config.json file:
//
//	{
//	  "mcpServers": {
//	    "datetime": {"command": "flowmesh", "args": ["mcp-serve"]},
//	    "remote":   {"url": "http://localhost:3000/mcp"}
//	  }
//	}
//
// NewServer goes the other way and exposes any tool.Provider, typically the
// builtin registry, as an MCP server.
package mcp
