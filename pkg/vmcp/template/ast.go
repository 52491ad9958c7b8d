// Package template implements the Template Engine: an expression layer for
// `@param`/`@config`/`@tool`/`@resource`/`@prompt` forms, evaluated before a
// mustache-style text-template layer over the parameter namespace
// (spec §4.4).
package template

// ExprKind discriminates the five expression forms plus plain literal text.
type ExprKind string

// The expression AST node kinds.
const (
	KindLiteral ExprKind = "literal"
	KindParam   ExprKind = "param"
	KindConfig  ExprKind = "config"
	KindTool    ExprKind = "tool"
	KindResource ExprKind = "resource"
	KindPrompt  ExprKind = "prompt"
)

// Node is one segment of a parsed template: either literal text to copy
// through verbatim, or one `@`-prefixed expression to evaluate and
// substitute.
type Node struct {
	Kind ExprKind

	// Offset is the byte offset of this node in the original source, used
	// to build TemplateSyntax error locations.
	Offset int

	// Literal text (KindLiteral).
	Text string

	// Param/Config name, e.g. "x" in @param.x or @config.x.
	Name string

	// Resource URI (KindResource), when not an alias reference.
	URI string
	// Alias is true when the form was `@resource.alias` rather than
	// `@resource("URI")`.
	Alias bool

	// Tool/Prompt name and raw JSON argument object text (KindTool,
	// KindPrompt).
	TargetName string
	ArgsJSON   string
}

// AST is a fully parsed template: an ordered sequence of literal and
// expression nodes.
type AST struct {
	Nodes []Node
}
