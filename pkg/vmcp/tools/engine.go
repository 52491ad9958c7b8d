// Package tools implements the three Custom Tool Engines: Script (Python
// subprocess), HTTP (templated request/response), and Prompt (rendered
// text). Each engine executes one vmcp.CustomTool variant against an
// Invocation Context and a rendered argument set (spec §4.5).
package tools

import (
	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/template"
)

// Engine executes one custom tool kind.
type Engine interface {
	// Execute runs tool against args, returning an MCP-shaped result: a
	// bare string, a content-part slice, or a decoded JSON value, each of
	// which template.RenderToolResult can render.
	Execute(ic *vmcp.InvocationContext, tool vmcp.CustomTool, args map[string]any) (any, error)
}

// Describe converts a vmcp.CustomTool into the ToolDescriptor the composer
// advertises through tools/list. It is the same for every engine kind, so
// it lives here rather than being duplicated per engine.
func Describe(tool vmcp.CustomTool) vmcp.ToolDescriptor {
	return vmcp.ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
	}
}

// Engines bundles one Engine per custom tool kind, resolved by the
// composer from a tool's Kind field.
type Engines struct {
	Script Engine
	HTTP   Engine
	Prompt Engine
}

// For returns the engine responsible for tool's kind.
func (e Engines) For(kind vmcp.CustomToolKind) (Engine, bool) {
	switch kind {
	case vmcp.CustomToolScript:
		return e.Script, e.Script != nil
	case vmcp.CustomToolHTTP:
		return e.HTTP, e.HTTP != nil
	case vmcp.CustomToolPrompt:
		return e.Prompt, e.Prompt != nil
	default:
		return nil, false
	}
}

// templateHost narrows template.Host to what the engines need when
// rendering tool bodies; engines receive a concrete template.Host from
// their constructor (normally the composer).
type templateHost = template.Host
