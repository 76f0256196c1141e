// Package flow provides the flow orchestration engine: a mutable directed
// graph of typed steps joined by named-output connections, and a Scheduler
// that walks the graph against a conversation.
//
// Steps are instances of a Kind. Every Kind declares its outputs statically
// (simple-prompt has "default", token-count-branch has "Over" and "Under")
// and a connection is only accepted when its output name is declared by the
// source step's kind. The scheduler stays generic: it runs a step, receives
// the selected output names and follows every matching connection.
//
// Graphs may contain cycles. The scheduler walks them iteratively with a
// FIFO queue and stops runaway loops with a step and message ceiling.
//
// Flows persist as plain data:
//
//	{"name": "...",
//	 "steps": [{"id", "type", "x", "y", "isMinimized", "data"}],
//	 "connections": [{"from", "to", "outputName"}]}
package flow
