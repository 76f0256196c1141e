// Package agent defines the persisted agent configuration: which model
// answers, which system prompt it receives and which tools it may call.
//
// Agents carry no runtime state. A chat or flow step resolves an agent and
// hands its instructions and tool.Policy to chat.Driver for each turn.
package agent
