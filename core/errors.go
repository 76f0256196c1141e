package core

import "errors"

var (
	// ErrToolNotEnabled is reported when an assistant requests a tool that is
	// absent from the agent's enabled set or unknown to every provider.
	ErrToolNotEnabled = errors.New("tool not enabled")

	// ErrToolDispatch marks a network or runtime failure while invoking a tool.
	ErrToolDispatch = errors.New("tool dispatch fault")

	// ErrCompletion marks a failure of the completion backend itself.
	ErrCompletion = errors.New("completion fault")

	// ErrInvalidConnection is returned by flow graph edits that reference an
	// unknown step or an output the source step does not declare.
	ErrInvalidConnection = errors.New("invalid connection")

	// ErrOutOfRange is returned when an alternative index is out of bounds.
	ErrOutOfRange = errors.New("out of range")

	// ErrLoopLimitExceeded aborts a flow run that exceeded its step or message ceiling.
	ErrLoopLimitExceeded = errors.New("loop limit exceeded")

	// ErrTurnLimitExceeded ends a turn whose model kept calling tools past the iteration cap.
	ErrTurnLimitExceeded = errors.New("turn iteration limit exceeded")

	// ErrNotFound is returned when a message, step, flow or record does not exist.
	ErrNotFound = errors.New("not found")
)
