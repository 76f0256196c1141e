// Package cli implements the flowmesh command line: running flow files,
// chatting, serving the HTTP API, serving builtin tools over MCP and
// running the mock completion backend.
package cli
