package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TextContent mirrors the MCP text content block so local tools and MCP
// servers render identically inside tool-role messages.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text wraps s as a single MCP-style text block.
func Text(s string) []TextContent {
	return []TextContent{{Type: "text", Text: s}}
}

// FormatResult renders a successful tool result as indented JSON. Plain
// strings are wrapped into a text content block first.
func FormatResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		result = Text("")
	case string:
		result = Text(v)
	case []byte:
		result = Text(string(v))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return "", fmt.Errorf("format tool result: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
