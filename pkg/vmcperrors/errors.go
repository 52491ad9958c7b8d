// Package vmcperrors defines the shared error taxonomy used across the vMCP
// aggregator: upstream sessions, custom tool engines, the template engine,
// and the composer all produce errors of these kinds so the MCP protocol
// adapter can map them onto JSON-RPC error envelopes without inspecting
// component-specific error types.
package vmcperrors

import "fmt"

// Kind identifies an error's place in the taxonomy (spec §7).
type Kind string

// The full error taxonomy. Each kind has a fixed JSON-RPC code (see CodeFor).
const (
	BadArguments          Kind = "bad_arguments"
	UnknownTool           Kind = "unknown_tool"
	UnknownResource       Kind = "unknown_resource"
	UnknownPrompt         Kind = "unknown_prompt"
	UpstreamUnavailable   Kind = "upstream_unavailable"
	UpstreamTimeout       Kind = "upstream_timeout"
	UpstreamProtocol      Kind = "upstream_protocol"
	UpstreamToolError     Kind = "upstream_tool_error"
	AuthRequired          Kind = "auth_required"
	ToolTimeout           Kind = "tool_timeout"
	ToolCrash             Kind = "tool_crash"
	ToolBadOutput         Kind = "tool_bad_output"
	ToolHTTPStatus        Kind = "tool_http_status"
	TemplateSyntax        Kind = "template_syntax"
	TemplateMissingConfig Kind = "template_missing_config"
	TemplateUnknownTarget Kind = "template_unknown_target"
	TemplateRecursion     Kind = "template_recursion"
	UpstreamSaturated     Kind = "upstream_saturated"
	Internal              Kind = "internal"
)

// JSON-RPC 2.0 standard and MCP-conventional error codes.
const (
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// CodeFor returns the JSON-RPC error code for a given taxonomy kind.
func CodeFor(k Kind) int {
	switch k {
	case BadArguments:
		return CodeInvalidParams
	case UnknownTool, UnknownResource, UnknownPrompt:
		return CodeMethodNotFound
	default:
		return CodeServerError
	}
}

// Error is the shared error envelope for the vMCP taxonomy. It carries a
// Kind, a human-readable Message, an optional Cause, and contextual fields
// used to build the JSON-RPC `data` object (Server, Detail). Secrets must
// never be placed in Message or Detail.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Server is the upstream server id or name responsible, when applicable.
	Server string
	// Detail carries extra structured context (e.g. an HTTP status excerpt,
	// a template byte offset). Never populate with secret values.
	Detail string
	// AuthorizationURL is populated for AuthRequired errors so the caller can
	// complete an OAuth authorization-code flow out of band.
	AuthorizationURL string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/As to see through to the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithServer returns a copy of the error annotated with the responsible
// upstream server name.
func (e *Error) WithServer(server string) *Error {
	clone := *e
	clone.Server = server
	return &clone
}

// WithDetail returns a copy of the error annotated with extra detail.
func (e *Error) WithDetail(detail string) *Error {
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithAuthorizationURL returns a copy of the error carrying an authorization
// URL, used for AuthRequired errors.
func (e *Error) WithAuthorizationURL(url string) *Error {
	clone := *e
	clone.AuthorizationURL = url
	return &clone
}

// As attempts to extract a *Error from err via errors.As semantics, without
// importing the standard "errors" package's As into call sites.
func As(err error) (*Error, bool) {
	var target *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return target, false
}

// Data builds the JSON-RPC error `data` payload for this error. Secret
// values must already have been stripped from Message/Detail by the caller.
func (e *Error) Data() map[string]any {
	data := map[string]any{
		"kind": string(e.Kind),
	}
	if e.Detail != "" {
		data["detail"] = e.Detail
	}
	if e.Server != "" {
		data["server"] = e.Server
	}
	if e.AuthorizationURL != "" {
		data["authorization_url"] = e.AuthorizationURL
	}
	return data
}
