package adapter

import (
	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// protocolVersion is the MCP wire protocol version this adapter speaks.
const protocolVersion = "2024-11-05"

func (a *Adapter) dispatch(ic *vmcp.InvocationContext, m *mount, method string, params map[string]any) (any, *rpcError) {
	switch method {
	case "initialize":
		return a.handleInitialize(), nil

	case "ping":
		return map[string]any{}, nil

	case "tools/list":
		tools, err := m.composer.ListTools(ic)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"tools": tools}, nil

	case "tools/call":
		name, _ := params["name"].(string)
		args, _ := params["arguments"].(map[string]any)
		result, err := m.composer.DispatchTool(ic, name, args)
		if err != nil {
			return nil, toRPCError(err)
		}
		return wrapContentResult(result), nil

	case "resources/list":
		resources, err := m.composer.ListResources(ic)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"resources": resources}, nil

	case "resources/templates/list":
		templates, err := m.composer.ListResourceTemplates(ic)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"resourceTemplates": templates}, nil

	case "resources/read":
		uri, _ := params["uri"].(string)
		result, err := m.composer.DispatchResource(ic, uri)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"contents": asContentSlice(result)}, nil

	case "prompts/list":
		prompts, err := m.composer.ListPrompts(ic)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"prompts": prompts}, nil

	case "prompts/get":
		name, _ := params["name"].(string)
		args, _ := params["arguments"].(map[string]any)
		result, err := m.composer.DispatchPrompt(ic, name, args)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"messages": asContentSlice(result)}, nil

	default:
		return nil, &rpcError{Code: vmcperrors.CodeMethodNotFound, Message: "method not supported: " + method}
	}
}

func (a *Adapter) handleInitialize() any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "vmcp",
			"version": "0.1.0",
		},
	}
}

// wrapContentResult normalizes a dispatched tool result into the MCP
// `{"content": [...], "isError": false}` envelope tools/call expects.
func wrapContentResult(result any) map[string]any {
	return map[string]any{"content": asContentSlice(result), "isError": false}
}

// asContentSlice coerces a dispatched result into a content-part slice: a
// bare string becomes a single text part, an existing slice passes
// through, anything else is wrapped as a single opaque part.
func asContentSlice(result any) []any {
	switch v := result.(type) {
	case []any:
		return v
	case string:
		return []any{map[string]any{"type": "text", "text": v}}
	case nil:
		return []any{}
	default:
		return []any{map[string]any{"type": "text", "text": v}}
	}
}

// toRPCError maps the shared error taxonomy onto a JSON-RPC error object.
func toRPCError(err error) *rpcError {
	verr, ok := vmcperrors.As(err)
	if !ok {
		return &rpcError{Code: vmcperrors.CodeServerError, Message: err.Error()}
	}
	return &rpcError{
		Code:    vmcperrors.CodeFor(verr.Kind),
		Message: verr.Error(),
		Data:    verr.Data(),
	}
}
