// Package tool implements the capability side of the tool-calling protocol:
// the Tool contract for in-process functions, the Provider contract that MCP
// clients and local registries satisfy, the agent Policy deciding which tool
// names are enabled, and ToolError for uniform failure reporting.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
)

// Tool is an in-process capability callable by name.
//
// Implementations should:
//   - Use snake_case names; names are matched case-sensitively
//   - Describe arguments with a minimal JSON schema
//   - Respect ctx cancellation for anything that blocks
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description shown to models.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Info describes a tool offered by a Provider.
type Info struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// Source names the provider (registry name or MCP server).
	Source string `json:"source,omitempty"`
}

// Provider is the dispatch contract consumed by the chat interpreter. Local
// registries and MCP clients both implement it.
type Provider interface {
	// Tools lists the tools currently offered.
	Tools(ctx context.Context) ([]Info, error)

	// Call dispatches a named tool. The returned value must be JSON serializable.
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeNotEnabled = "NOT_ENABLED"
	CodeNotFound   = "NOT_FOUND"
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeDispatch   = "DISPATCH_ERROR"
)

// ToolError represents errors that occur during tool dispatch or execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Is maps codes onto the core error taxonomy.
func (e *ToolError) Is(target error) bool {
	switch target {
	case core.ErrToolNotEnabled:
		return e.Code == CodeNotEnabled
	case core.ErrNotFound:
		return e.Code == CodeNotFound
	case core.ErrToolDispatch:
		return e.Code != CodeNotEnabled
	}
	return false
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// AsToolError converts any error into a *ToolError, keeping existing ones.
func AsToolError(tool string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Tool: tool, Message: err.Error(), Code: CodeDispatch}
}
