package template

import (
	"fmt"
	"strings"
)

// ParseError reports a syntax error at a byte offset into the source text
// (spec §4.4: "Parse failure → TemplateSyntax with byte offset").
type ParseError struct {
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("template syntax error at offset %d: %s", e.Offset, e.Message)
}

// Parse scans src for `@`-prefixed expression forms, returning an ordered
// AST of literal and expression nodes. `\@` is the documented escape for a
// literal `@` (spec §8 property 3).
func Parse(src string) (*AST, error) {
	p := &parser{src: src}
	return p.parse()
}

type parser struct {
	src string
	pos int
}

func (p *parser) parse() (*AST, error) {
	ast := &AST{}
	var lit strings.Builder
	litStart := 0

	flushLiteral := func() {
		if lit.Len() > 0 {
			ast.Nodes = append(ast.Nodes, Node{Kind: KindLiteral, Offset: litStart, Text: lit.String()})
			lit.Reset()
		}
	}

	for p.pos < len(p.src) {
		c := p.src[p.pos]

		if c == '\\' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '@' {
			if lit.Len() == 0 {
				litStart = p.pos
			}
			lit.WriteByte('@')
			p.pos += 2
			continue
		}

		if c != '@' {
			if lit.Len() == 0 {
				litStart = p.pos
			}
			lit.WriteByte(c)
			p.pos++
			continue
		}

		start := p.pos
		node, ok, err := p.tryParseExpr()
		if err != nil {
			return nil, err
		}
		if !ok {
			// Not a recognized form: treat '@' as a literal character.
			if lit.Len() == 0 {
				litStart = p.pos
			}
			lit.WriteByte('@')
			p.pos = start + 1
			continue
		}

		flushLiteral()
		node.Offset = start
		ast.Nodes = append(ast.Nodes, node)
	}
	flushLiteral()

	return ast, nil
}

// tryParseExpr attempts to parse one of the five `@` forms starting at
// p.pos (which points at '@'). ok is false when the text at this position
// is not a recognized form, in which case p.pos is left unchanged.
func (p *parser) tryParseExpr() (Node, bool, error) {
	rest := p.src[p.pos+1:]

	switch {
	case strings.HasPrefix(rest, "param"):
		return p.parseParamOrConfig(KindParam, "param")
	case strings.HasPrefix(rest, "config"):
		return p.parseParamOrConfig(KindConfig, "config")
	case strings.HasPrefix(rest, "tool("):
		return p.parseCall(KindTool, "tool(")
	case strings.HasPrefix(rest, "prompt("):
		return p.parseCall(KindPrompt, "prompt(")
	case strings.HasPrefix(rest, "resource"):
		return p.parseResource()
	default:
		return Node{}, false, nil
	}
}

func (p *parser) parseParamOrConfig(kind ExprKind, keyword string) (Node, bool, error) {
	save := p.pos
	i := p.pos + 1 + len(keyword)

	if i < len(p.src) && p.src[i] == '.' {
		i++
		start := i
		for i < len(p.src) && isIdentByte(p.src[i]) {
			i++
		}
		if i == start {
			return Node{}, false, nil
		}
		name := p.src[start:i]
		p.pos = i
		return Node{Kind: kind, Name: name}, true, nil
	}

	if i < len(p.src) && p.src[i] == '[' {
		j := i + 1
		quote := byte(0)
		if j < len(p.src) && (p.src[j] == '"' || p.src[j] == '\'') {
			quote = p.src[j]
			j++
		} else {
			return Node{}, false, nil
		}
		start := j
		for j < len(p.src) && p.src[j] != quote {
			j++
		}
		if j >= len(p.src) {
			return Node{}, false, &ParseError{Offset: save, Message: fmt.Sprintf("unterminated %s[\"...\"] form", keyword)}
		}
		name := p.src[start:j]
		j++ // closing quote
		if j >= len(p.src) || p.src[j] != ']' {
			return Node{}, false, &ParseError{Offset: save, Message: fmt.Sprintf("expected ']' to close %s[...]", keyword)}
		}
		j++
		p.pos = j
		return Node{Kind: kind, Name: name}, true, nil
	}

	return Node{}, false, nil
}

// parseCall parses `@tool("NAME", {json})` / `@prompt("NAME", {json})`,
// accepting a bare `"NAME"` with no args (defaulting ArgsJSON to "{}").
func (p *parser) parseCall(kind ExprKind, keyword string) (Node, bool, error) {
	save := p.pos
	i := p.pos + 1 + len(keyword) // past '@tool(' / '@prompt('

	i = skipSpace(p.src, i)
	name, i, ok := readQuotedString(p.src, i)
	if !ok {
		if i < len(p.src) && (p.src[i] == '"' || p.src[i] == '\'') {
			return Node{}, false, &ParseError{Offset: save, Message: fmt.Sprintf("unterminated target name in @%s...) call", keyword)}
		}
		return Node{}, false, nil
	}

	i = skipSpace(p.src, i)
	argsJSON := "{}"
	if i < len(p.src) && p.src[i] == ',' {
		i = skipSpace(p.src, i+1)
		start := i
		depth := 0
		inStr := false
		var strQuote byte
		for i < len(p.src) {
			ch := p.src[i]
			switch {
			case inStr:
				if ch == '\\' {
					i += 2
					continue
				}
				if ch == strQuote {
					inStr = false
				}
			case ch == '"' || ch == '\'':
				inStr = true
				strQuote = ch
			case ch == '{' || ch == '[':
				depth++
			case ch == '}' || ch == ']':
				depth--
			case ch == ')' && depth == 0:
				goto doneArgs
			}
			i++
		}
	doneArgs:
		if i >= len(p.src) {
			return Node{}, false, &ParseError{Offset: save, Message: fmt.Sprintf("unterminated @%s(...) call", strings.TrimSuffix(keyword, "("))}
		}
		argsJSON = strings.TrimSpace(p.src[start:i])
		if argsJSON == "" {
			argsJSON = "{}"
		}
	}

	i = skipSpace(p.src, i)
	if i >= len(p.src) || p.src[i] != ')' {
		return Node{}, false, &ParseError{Offset: save, Message: fmt.Sprintf("expected ')' to close @%s(...) call", strings.TrimSuffix(keyword, "("))}
	}
	i++

	p.pos = i
	return Node{Kind: kind, TargetName: name, ArgsJSON: argsJSON}, true, nil
}

func (p *parser) parseResource() (Node, bool, error) {
	save := p.pos
	i := p.pos + 1 + len("resource")

	if i < len(p.src) && p.src[i] == '(' {
		j := skipSpace(p.src, i+1)
		uri, j, ok := readQuotedString(p.src, j)
		if !ok {
			return Node{}, false, nil
		}
		j = skipSpace(p.src, j)
		if j >= len(p.src) || p.src[j] != ')' {
			return Node{}, false, &ParseError{Offset: save, Message: "expected ')' to close @resource(...)"}
		}
		j++
		p.pos = j
		return Node{Kind: KindResource, URI: uri}, true, nil
	}

	if i < len(p.src) && p.src[i] == '.' {
		j := i + 1
		start := j
		for j < len(p.src) && isIdentByte(p.src[j]) {
			j++
		}
		if j == start {
			return Node{}, false, nil
		}
		p.pos = j
		return Node{Kind: KindResource, Name: p.src[start:j], Alias: true}, true, nil
	}

	return Node{}, false, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

// readQuotedString reads a "..." or '...' literal starting at i, returning
// its unescaped-quote content, the index just past the closing quote, and
// whether a well-formed quoted string was found.
func readQuotedString(s string, i int) (string, int, bool) {
	if i >= len(s) || (s[i] != '"' && s[i] != '\'') {
		return "", i, false
	}
	quote := s[i]
	j := i + 1
	var out strings.Builder
	for j < len(s) {
		if s[j] == '\\' && j+1 < len(s) {
			out.WriteByte(s[j+1])
			j += 2
			continue
		}
		if s[j] == quote {
			return out.String(), j + 1, true
		}
		out.WriteByte(s[j])
		j++
	}
	return "", i, false
}
