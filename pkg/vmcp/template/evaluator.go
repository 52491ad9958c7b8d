package template

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// tracer emits one span per nested @tool/@prompt invocation a template
// expression makes (spec §4.4). With no SDK configured the process-wide
// TracerProvider defaults to a no-op, matching the teacher's own
// always-instrumented-but-optionally-exported telemetry posture.
var tracer = otel.Tracer("github.com/oss-vmcp/vmcp/pkg/vmcp/template")

// Host resolves the three nested-invocation expression forms against the
// running vMCP composition. The evaluator never talks to upstreams or the
// composer directly; it only calls back through Host.
type Host interface {
	// Config looks up a vMCP-scoped configuration value (environment
	// binding), e.g. the value behind `@config.api_base`.
	Config(name string) (string, bool)

	// CallTool invokes a tool by its exposed name and renders the MCP
	// result to a string per render.go's rules.
	CallTool(ic *vmcp.InvocationContext, name string, args map[string]any) (string, error)

	// ReadResource reads a resource by URI and renders it to a string.
	ReadResource(ic *vmcp.InvocationContext, uri string) (string, error)

	// ResolveResourceAlias maps a vMCP-defined resource alias to its URI.
	ResolveResourceAlias(alias string) (string, bool)

	// GetPrompt renders a prompt by name and returns its text.
	GetPrompt(ic *vmcp.InvocationContext, name string, args map[string]any) (string, error)
}

// Evaluate walks ast against ic, dispatching `@tool`/`@resource`/`@prompt`
// nodes through host, and returns the fully substituted expression-layer
// text (spec §4.4's first pass, before the mustache-style text-template
// layer runs over the result).
func Evaluate(ic *vmcp.InvocationContext, ast *AST, host Host) (string, error) {
	var out []byte
	for _, n := range ast.Nodes {
		rendered, err := evalNode(ic, n, host)
		if err != nil {
			return "", err
		}
		out = append(out, rendered...)
	}
	return string(out), nil
}

// EvaluateString is a convenience wrapper that parses src and evaluates it
// in one step.
func EvaluateString(ic *vmcp.InvocationContext, src string, host Host) (string, error) {
	ast, err := Parse(src)
	if err != nil {
		if perr, ok := err.(*ParseError); ok {
			return "", vmcperrors.New(vmcperrors.TemplateSyntax, perr.Message, err).WithDetail(strconv.Itoa(perr.Offset))
		}
		return "", vmcperrors.New(vmcperrors.TemplateSyntax, err.Error(), err)
	}
	return Evaluate(ic, ast, host)
}

func evalNode(ic *vmcp.InvocationContext, n Node, host Host) (string, error) {
	switch n.Kind {
	case KindLiteral:
		return n.Text, nil

	case KindParam:
		v, ok := ic.RequestArgs[n.Name]
		if !ok {
			return "", nil
		}
		return stringifyParam(v), nil

	case KindConfig:
		v, ok := host.Config(n.Name)
		if !ok {
			return "", vmcperrors.Newf(vmcperrors.TemplateMissingConfig, nil, "no configuration value bound for @config.%s", n.Name)
		}
		return v, nil

	case KindTool:
		return evalNested(ic, n, host, func(ic *vmcp.InvocationContext, args map[string]any) (string, error) {
			return host.CallTool(ic, n.TargetName, args)
		})

	case KindPrompt:
		return evalNested(ic, n, host, func(ic *vmcp.InvocationContext, args map[string]any) (string, error) {
			return host.GetPrompt(ic, n.TargetName, args)
		})

	case KindResource:
		uri := n.URI
		if n.Alias {
			resolved, ok := host.ResolveResourceAlias(n.Name)
			if !ok {
				return "", vmcperrors.Newf(vmcperrors.TemplateUnknownTarget, nil, "no resource aliased %q", n.Name)
			}
			uri = resolved
		} else {
			rendered, err := EvaluateString(ic, uri, host)
			if err != nil {
				return "", err
			}
			uri = rendered
		}

		memoKey := "resource:" + uri
		if v, ok := ic.MemoGet(memoKey); ok {
			return v, nil
		}
		if !ic.EnterRecursion() {
			return "", vmcperrors.Newf(vmcperrors.TemplateRecursion, nil, "max template recursion depth exceeded resolving resource %q", uri)
		}
		rendered, err := host.ReadResource(ic, uri)
		if err != nil {
			return "", err
		}
		ic.MemoPut(memoKey, rendered)
		return rendered, nil

	default:
		return "", vmcperrors.Newf(vmcperrors.TemplateSyntax, nil, "unknown expression kind %q", n.Kind)
	}
}

// evalNested renders a tool/prompt invocation's argument JSON (itself a
// nested template), canonicalizes it for memoization, enforces the
// recursion bound, and dispatches through call.
func evalNested(ic *vmcp.InvocationContext, n Node, host Host, call func(*vmcp.InvocationContext, map[string]any) (string, error)) (string, error) {
	renderedArgs, err := EvaluateString(ic, n.ArgsJSON, host)
	if err != nil {
		return "", err
	}

	parsed := gjson.Parse(renderedArgs)
	if !parsed.IsObject() {
		return "", vmcperrors.Newf(vmcperrors.TemplateSyntax, nil, "%s(%q, ...) arguments are not a JSON object", n.Kind, n.TargetName)
	}
	args, ok := parsed.Value().(map[string]any)
	if !ok {
		args = map[string]any{}
	}

	canonicalArgs, err := json.Marshal(args)
	if err != nil {
		return "", vmcperrors.Newf(vmcperrors.Internal, err, "canonicalizing arguments for %s(%q)", n.Kind, n.TargetName)
	}
	memoKey := fmt.Sprintf("%s:%s:%s", n.Kind, n.TargetName, canonicalArgs)

	if v, ok := ic.MemoGet(memoKey); ok {
		return v, nil
	}
	if !ic.EnterRecursion() {
		return "", vmcperrors.Newf(vmcperrors.TemplateRecursion, nil, "max template recursion depth exceeded invoking %s %q", n.Kind, n.TargetName)
	}

	spanCtx, span := tracer.Start(ic.Context(), fmt.Sprintf("vmcp.template.%s", n.Kind))
	defer span.End()

	child := ic.Child(args).WithContext(spanCtx)
	result, err := call(child, args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	ic.MemoPut(memoKey, result)
	return result, nil
}

// stringifyParam renders a parameter value for textual substitution:
// strings pass through unquoted, everything else is JSON-encoded.
func stringifyParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
