package template

import (
	"strconv"
	"strings"
)

// RenderMustache runs the second template pass over an expression-layer
// rendering: `{{#if x}}...{{/if}}` and `{{#each items}}...{{/each}}` blocks
// plus bare `{{var}}` substitution, resolved against params (spec §4.4).
// An unknown variable renders empty rather than erroring, matching the
// expression layer's treatment of unresolved `@param` references.
func RenderMustache(src string, params map[string]any) string {
	out, _ := renderBlock(src, params)
	return out
}

// renderBlock renders src up to (but not including) a matching
// `{{/if}}`/`{{/each}}` at depth 0, returning the rendered text and the
// remainder of src following the closing tag (or "" if none was found,
// i.e. this is the top-level call).
func renderBlock(src string, params map[string]any) (string, string) {
	var sb strings.Builder

	for {
		open := strings.Index(src, "{{")
		if open < 0 {
			sb.WriteString(src)
			return sb.String(), ""
		}
		sb.WriteString(src[:open])

		end := strings.Index(src[open:], "}}")
		if end < 0 {
			// Unterminated tag: emit the rest verbatim.
			sb.WriteString(src[open:])
			return sb.String(), ""
		}
		end += open
		tag := strings.TrimSpace(src[open+2 : end])
		rest := src[end+2:]

		switch {
		case tag == "/if" || tag == "/each":
			return sb.String(), rest

		case strings.HasPrefix(tag, "#if "):
			cond := strings.TrimSpace(tag[len("#if "):])
			body, after := findBlockBody(rest)
			if truthy(lookup(params, cond)) {
				rendered, _ := renderBlock(body, params)
				sb.WriteString(rendered)
			}
			src = after
			continue

		case strings.HasPrefix(tag, "#each "):
			name := strings.TrimSpace(tag[len("#each "):])
			body, after := findBlockBody(rest)
			items, _ := lookup(params, name).([]any)
			for _, item := range items {
				itemParams := params
				if m, ok := item.(map[string]any); ok {
					itemParams = mergeParams(params, m)
				} else {
					itemParams = mergeParams(params, map[string]any{".": item})
				}
				rendered, _ := renderBlock(body, itemParams)
				sb.WriteString(rendered)
			}
			src = after
			continue

		default:
			sb.WriteString(stringifyVar(lookup(params, tag)))
			src = rest
		}
	}
}

// findBlockBody scans forward from just past an opening `{{#if}}`/
// `{{#each}}` tag to find the text up to (and the remainder past) its
// matching close tag, accounting for nesting of the same two block kinds.
func findBlockBody(src string) (body, rest string) {
	depth := 0
	i := 0
	for i < len(src) {
		open := strings.Index(src[i:], "{{")
		if open < 0 {
			return src, ""
		}
		open += i
		end := strings.Index(src[open:], "}}")
		if end < 0 {
			return src, ""
		}
		end += open
		tag := strings.TrimSpace(src[open+2 : end])

		switch {
		case strings.HasPrefix(tag, "#if ") || strings.HasPrefix(tag, "#each "):
			depth++
		case tag == "/if" || tag == "/each":
			if depth == 0 {
				return src[:open], src[end+2:]
			}
			depth--
		}
		i = end + 2
	}
	return src, ""
}

func mergeParams(base map[string]any, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// lookup resolves a dotted path (e.g. "user.name") against params, nil if
// any segment is missing or not a map.
func lookup(params map[string]any, path string) any {
	if path == "." {
		return params["."]
	}
	segments := strings.Split(path, ".")
	var cur any = params
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func stringifyVar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return ""
	}
}
