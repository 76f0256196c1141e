package toolcall

import (
	"fmt"
	"sort"
	"strings"
)

// Namespace is the tag prefix of every marker.
const Namespace = "dma"

const (
	callTag     = Namespace + ":tool_call"
	responseTag = Namespace + ":tool_response"
)

// Invocation is the outcome of scanning assistant text: NoToolCall or ToolCall.
type Invocation interface{ isInvocation() }

// NoToolCall signals that the text contains no well-formed call marker.
type NoToolCall struct{}

func (NoToolCall) isInvocation() {}

// ToolCall is an assistant-authored request to run a named tool.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	// Offset is the byte offset of the marker in the scanned text.
	Offset int `json:"-"`
}

func (ToolCall) isInvocation() {}

// Status is the outcome branch of a tool result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the rendered outcome of a tool call.
type Result struct {
	ToolName string `json:"toolName"`
	Status   Status `json:"status"`
	Payload  string `json:"payload"`
}

// NotEnabledMessage is the error payload for a tool outside the enabled set.
func NotEnabledMessage(name string) string {
	return fmt.Sprintf("Tool \"%s\" is not enabled.", name)
}

// RenderCall produces the marker text for a call. Arguments are emitted as
// a JSON body so any value shape survives.
func RenderCall(c ToolCall) (string, error) {
	if c.Name == "" {
		return "", fmt.Errorf("tool call without name")
	}
	if len(c.Arguments) == 0 {
		return fmt.Sprintf("<%s name=%q/>", callTag, c.Name), nil
	}
	body, err := encodeArguments(c.Arguments)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<%s name=%q>%s</%s>", callTag, c.Name, body, callTag), nil
}

// RenderResult produces the tool-role message content for a result.
func RenderResult(r Result) string {
	branch := "content"
	if r.Status == StatusError {
		branch = "error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<%s name=%q>\n", responseTag, r.ToolName)
	fmt.Fprintf(&b, "<%s>\n%s\n</%s>\n", branch, r.Payload, branch)
	fmt.Fprintf(&b, "</%s>", responseTag)
	return b.String()
}

// ParseResult extracts a Result from tool-role message content.
func ParseResult(text string) (Result, bool) {
	start := strings.Index(text, "<"+responseTag)
	if start < 0 {
		return Result{}, false
	}
	sc := &scanner{src: text, pos: start + len(responseTag) + 1}
	attrs, selfClosing, ok := sc.attributes()
	if !ok || selfClosing {
		return Result{}, false
	}
	name := attrs["name"]
	rest := text[sc.pos:]
	end := strings.LastIndex(rest, "</"+responseTag+">")
	if end < 0 {
		return Result{}, false
	}
	rest = rest[:end]

	for _, branch := range []struct {
		tag    string
		status Status
	}{{"content", StatusSuccess}, {"error", StatusError}} {
		open := strings.Index(rest, "<"+branch.tag+">")
		if open < 0 {
			continue
		}
		body := rest[open+len(branch.tag)+2:]
		closeAt := strings.LastIndex(body, "</"+branch.tag+">")
		if closeAt < 0 {
			return Result{}, false
		}
		payload := strings.TrimSuffix(strings.TrimPrefix(body[:closeAt], "\n"), "\n")
		return Result{ToolName: name, Status: branch.status, Payload: payload}, true
	}
	return Result{}, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
