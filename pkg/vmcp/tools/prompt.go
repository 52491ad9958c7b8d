package tools

import (
	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/template"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// PromptEngine runs Prompt custom tools: the tool's body is evaluated
// through the Template Engine's expression layer and then the
// mustache-style text layer over args, returning a single MCP text
// content part.
type PromptEngine struct {
	host template.Host
}

// NewPromptEngine builds a PromptEngine bound to host for nested
// expression resolution.
func NewPromptEngine(host template.Host) *PromptEngine {
	return &PromptEngine{host: host}
}

func (e *PromptEngine) Execute(ic *vmcp.InvocationContext, tool vmcp.CustomTool, args map[string]any) (any, error) {
	if tool.Prompt == nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, nil, "custom tool %q declared kind prompt with no prompt spec", tool.Name)
	}
	text, err := RenderPromptBody(ic, tool.Prompt.Body, args, e.host)
	if err != nil {
		return nil, err
	}
	return []any{map[string]any{"type": "text", "text": text}}, nil
}

// RenderPromptBody runs both template passes over body: the expression
// layer (via the Template Engine, with recursion/memoization bound to ic),
// then the mustache-style text layer over args. Shared by the Prompt
// custom tool engine and the composer's get_prompt/system_prompt handling.
func RenderPromptBody(ic *vmcp.InvocationContext, body string, args map[string]any, host template.Host) (string, error) {
	child := ic.Child(args)
	expanded, err := template.EvaluateString(child, body, host)
	if err != nil {
		return "", err
	}
	return template.RenderMustache(expanded, args), nil
}
