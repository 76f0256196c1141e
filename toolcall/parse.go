package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Parse returns every well-formed call marker in text, in order of
// appearance. Malformed markers (no name, unterminated tag, invalid JSON
// arguments) are skipped.
func Parse(text string) []ToolCall {
	calls, _ := scan(text)
	return calls
}

// Malformed counts call markers that open a call tag but cannot be parsed,
// e.g. a paired marker whose body is not a JSON object.
func Malformed(text string) int {
	_, malformed := scan(text)
	return malformed
}

func scan(text string) ([]ToolCall, int) {
	var calls []ToolCall
	malformed := 0
	offset := 0
	for {
		idx := strings.Index(text[offset:], "<"+callTag)
		if idx < 0 {
			return calls, malformed
		}
		start := offset + idx
		call, end, ok := parseCallAt(text, start)
		if ok {
			calls = append(calls, call)
			offset = end
			continue
		}
		if tagEndsAt(text, start+len(callTag)+1) {
			malformed++
		}
		offset = start + len(callTag) + 1
	}
}

// tagEndsAt reports whether the tag name ends at pos, rejecting longer
// names such as <dma:tool_caller>.
func tagEndsAt(text string, pos int) bool {
	return pos >= len(text) || isSpace(text[pos]) || text[pos] == '/' || text[pos] == '>'
}

// First applies the single-call policy: only the first well-formed marker is
// honored. It also reports how many markers were found in total so callers
// can surface the ignored ones.
func First(text string) (Invocation, int) {
	calls := Parse(text)
	if len(calls) == 0 {
		return NoToolCall{}, 0
	}
	return calls[0], len(calls)
}

// parseCallAt parses a call marker starting at text[start] ('<').
func parseCallAt(text string, start int) (ToolCall, int, bool) {
	sc := &scanner{src: text, pos: start + len(callTag) + 1}
	if !tagEndsAt(text, sc.pos) {
		return ToolCall{}, 0, false
	}
	attrs, selfClosing, ok := sc.attributes()
	if !ok {
		return ToolCall{}, 0, false
	}
	name := strings.TrimSpace(attrs["name"])
	if name == "" {
		return ToolCall{}, 0, false
	}

	args := map[string]any{}
	for _, k := range sortedAttrKeys(attrs) {
		switch k {
		case "name":
		case "arguments", "args":
			decoded, err := decodeArguments(attrs[k])
			if err != nil {
				return ToolCall{}, 0, false
			}
			for ak, av := range decoded {
				args[ak] = av
			}
		default:
			args[k] = attrs[k]
		}
	}

	end := sc.pos
	if !selfClosing {
		closing := "</" + callTag + ">"
		closeAt := strings.Index(text[sc.pos:], closing)
		if closeAt < 0 {
			return ToolCall{}, 0, false
		}
		body := strings.TrimSpace(text[sc.pos : sc.pos+closeAt])
		if body != "" {
			decoded, err := decodeArguments(body)
			if err != nil {
				return ToolCall{}, 0, false
			}
			for ak, av := range decoded {
				args[ak] = av
			}
		}
		end = sc.pos + closeAt + len(closing)
	}

	if len(args) == 0 {
		args = nil
	}
	return ToolCall{Name: name, Arguments: args, Offset: start}, end, true
}

func sortedAttrKeys(attrs map[string]string) []string {
	m := make(map[string]any, len(attrs))
	for k := range attrs {
		m[k] = nil
	}
	return sortedKeys(m)
}

func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return normalizeNumbers(out).(map[string]any), nil
}

// normalizeNumbers turns json.Number into int64 when integral, float64 otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

func encodeArguments(args map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "", fmt.Errorf("encode tool arguments: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// scanner reads the attribute list of a tag up to '>' or '/>'.
type scanner struct {
	src string
	pos int
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && isSpace(s.src[s.pos]) {
		s.pos++
	}
}

// attributes parses name="value" pairs. It returns whether the tag was
// self-closing and false when the tag is malformed.
func (s *scanner) attributes() (map[string]string, bool, bool) {
	attrs := map[string]string{}
	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return nil, false, false
		}
		switch {
		case strings.HasPrefix(s.src[s.pos:], "/>"):
			s.pos += 2
			return attrs, true, true
		case s.src[s.pos] == '>':
			s.pos++
			return attrs, false, true
		}

		keyStart := s.pos
		for s.pos < len(s.src) && isAttrNameChar(s.src[s.pos]) {
			s.pos++
		}
		if s.pos == keyStart {
			return nil, false, false
		}
		key := s.src[keyStart:s.pos]

		s.skipSpace()
		if s.pos >= len(s.src) || s.src[s.pos] != '=' {
			return nil, false, false
		}
		s.pos++
		s.skipSpace()
		if s.pos >= len(s.src) {
			return nil, false, false
		}
		quote := s.src[s.pos]
		if quote != '"' && quote != '\'' {
			return nil, false, false
		}
		s.pos++
		valEnd := strings.IndexByte(s.src[s.pos:], quote)
		if valEnd < 0 {
			return nil, false, false
		}
		attrs[key] = html.UnescapeString(s.src[s.pos : s.pos+valEnd])
		s.pos += valEnd + 1
	}
}

func isAttrNameChar(c byte) bool {
	return c == '_' || c == '-' || c == ':' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
