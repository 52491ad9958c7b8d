package template

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// RenderToolResult converts an upstream or custom tool's MCP call result
// into the plain string a `@tool(...)` expression substitutes (spec §4.4):
// a bare string passes through; an MCP content array is rendered as its
// text parts joined by newlines, with non-text parts rendered as an
// `[binary:<mime>:<n bytes>]` placeholder; anything else is compactly
// JSON-serialized.
func RenderToolResult(result any) string {
	switch v := result.(type) {
	case string:
		return v
	case []any:
		return renderContentParts(v)
	default:
		return compactJSON(v)
	}
}

func renderContentParts(parts []any) string {
	var out string
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		m, ok := p.(map[string]any)
		if !ok {
			out += compactJSON(p)
			continue
		}
		kind, _ := m["type"].(string)
		switch kind {
		case "text", "":
			text, _ := m["text"].(string)
			out += text
		default:
			mime, _ := m["mimeType"].(string)
			n := binarySize(m)
			out += fmt.Sprintf("[binary:%s:%d bytes]", mime, n)
		}
	}
	return out
}

func binarySize(part map[string]any) int {
	for _, key := range []string{"data", "blob"} {
		if s, ok := part[key].(string); ok {
			if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
				return len(decoded)
			}
			return len(s)
		}
	}
	return 0
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
