// Package chat implements conversational turns on top of a message.Store.
//
// An Interpreter inspects each finished assistant message for a tool-call
// marker, checks it against the agent's tool.Policy, dispatches it through a
// tool.Provider and appends the rendered result as a tool-role message. The
// Driver alternates completions and interpretation until the assistant
// answers without calling a tool:
//
//	completion -> assistant message -> interpreter -> (tool message -> completion)*
//
// Tool failures never escape as Go errors; they become conversation content
// so the model can react to them. Only completion faults, the iteration cap
// and cancellation end a turn with an error.
package chat
