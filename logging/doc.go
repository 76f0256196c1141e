// Package logging provides a minimal logging interface and adapters for flowmesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// used by the chat driver, the flow scheduler, tool providers and the HTTP
// server. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - FlowMeshLogger with component scoping and domain helpers
//     (LogToolCall, LogCompletion, LogStep, LogFlowRun)
//   - NoOpLogger for silent operation (tests, library embedding)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	driver := chat.NewDriver(m, interp, func(o *chat.DriverOptions) { o.Logger = logger })
package logging
