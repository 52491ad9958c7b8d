package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

type fakeHost struct {
	config       map[string]string
	toolCalls    int
	toolResult   string
	toolErr      error
	resources    map[string]string
	aliases      map[string]string
	promptResult string
}

func (h *fakeHost) Config(name string) (string, bool) {
	v, ok := h.config[name]
	return v, ok
}

func (h *fakeHost) CallTool(_ *vmcp.InvocationContext, _ string, _ map[string]any) (string, error) {
	h.toolCalls++
	if h.toolErr != nil {
		return "", h.toolErr
	}
	return h.toolResult, nil
}

func (h *fakeHost) ReadResource(_ *vmcp.InvocationContext, uri string) (string, error) {
	v, ok := h.resources[uri]
	if !ok {
		return "", vmcperrors.New(vmcperrors.UnknownResource, "no such resource", nil)
	}
	return v, nil
}

func (h *fakeHost) ResolveResourceAlias(alias string) (string, bool) {
	v, ok := h.aliases[alias]
	return v, ok
}

func (h *fakeHost) GetPrompt(_ *vmcp.InvocationContext, _ string, _ map[string]any) (string, error) {
	return h.promptResult, nil
}

func newTestIC(args map[string]any) *vmcp.InvocationContext {
	return vmcp.NewInvocationContext(context.Background(), "vmcp-1", map[string]string{}, 8)
}

func TestEvaluateString_ParamSubstitution(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	ic.RequestArgs = map[string]any{"name": "Ada"}
	got, err := EvaluateString(ic, "Hello @param.name!", &fakeHost{})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", got)
}

func TestEvaluateString_MissingParamRendersEmpty(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	got, err := EvaluateString(ic, "[@param.missing]", &fakeHost{})
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestEvaluateString_ConfigSubstitution(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	host := &fakeHost{config: map[string]string{"api_base": "https://api.example.com"}}
	got, err := EvaluateString(ic, "@config.api_base/v1", host)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", got)
}

func TestEvaluateString_MissingConfig_ReturnsTemplateMissingConfig(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	_, err := EvaluateString(ic, "@config.missing", &fakeHost{})
	require.Error(t, err)
	verr, ok := vmcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, vmcperrors.TemplateMissingConfig, verr.Kind)
}

func TestEvaluateString_ToolCall_DispatchesThroughHost(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	host := &fakeHost{toolResult: "42"}
	got, err := EvaluateString(ic, `@tool("add", {"a": 1, "b": 2})`, host)
	require.NoError(t, err)
	assert.Equal(t, "42", got)
	assert.Equal(t, 1, host.toolCalls)
}

func TestEvaluateString_ToolCall_MemoizedWithinRequest(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	host := &fakeHost{toolResult: "42"}
	src := `@tool("add", {"a": 1}) and @tool("add", {"a": 1})`
	got, err := EvaluateString(ic, src, host)
	require.NoError(t, err)
	assert.Equal(t, "42 and 42", got)
	assert.Equal(t, 1, host.toolCalls, "identical tool+args invoked twice in one request must only call through once")
}

func TestEvaluateString_ToolCall_DifferentArgsNotMemoizedTogether(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	host := &fakeHost{toolResult: "x"}
	src := `@tool("add", {"a": 1}) @tool("add", {"a": 2})`
	_, err := EvaluateString(ic, src, host)
	require.NoError(t, err)
	assert.Equal(t, 2, host.toolCalls)
}

func TestEvaluateString_ToolCall_PropagatesHostError(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	host := &fakeHost{toolErr: vmcperrors.New(vmcperrors.UpstreamTimeout, "timed out", nil)}
	_, err := EvaluateString(ic, `@tool("slow", {})`, host)
	require.Error(t, err)
	verr, ok := vmcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, vmcperrors.UpstreamTimeout, verr.Kind)
}

func TestEvaluateString_ResourceByURI(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	host := &fakeHost{resources: map[string]string{"file:///a.txt": "contents"}}
	got, err := EvaluateString(ic, `@resource("file:///a.txt")`, host)
	require.NoError(t, err)
	assert.Equal(t, "contents", got)
}

func TestEvaluateString_ResourceByAlias(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	host := &fakeHost{
		aliases:   map[string]string{"docs": "file:///docs.txt"},
		resources: map[string]string{"file:///docs.txt": "the docs"},
	}
	got, err := EvaluateString(ic, "@resource.docs", host)
	require.NoError(t, err)
	assert.Equal(t, "the docs", got)
}

func TestEvaluateString_UnknownResourceAlias_ReturnsTemplateUnknownTarget(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	_, err := EvaluateString(ic, "@resource.missing", &fakeHost{})
	require.Error(t, err)
	verr, ok := vmcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, vmcperrors.TemplateUnknownTarget, verr.Kind)
}

func TestEvaluateString_RecursionDepthExceeded(t *testing.T) {
	t.Parallel()

	ic := vmcp.NewInvocationContext(context.Background(), "vmcp-1", map[string]string{}, 1)
	host := &fakeHost{toolResult: "x"}
	// First nested call consumes the only permitted depth; a second,
	// differently-keyed call within the same evaluation must be rejected.
	src := `@tool("a", {}) @tool("b", {})`
	_, err := EvaluateString(ic, src, host)
	require.Error(t, err)
	verr, ok := vmcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, vmcperrors.TemplateRecursion, verr.Kind)
}

func TestEvaluateString_NestedParamInsideToolArgs(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	ic.RequestArgs = map[string]any{"query": "go templates"}
	host := &fakeHost{toolResult: "results"}
	got, err := EvaluateString(ic, `@tool("search", {"q": "@param.query"})`, host)
	require.NoError(t, err)
	assert.Equal(t, "results", got)
}

func TestEvaluateString_SyntaxErrorPropagates(t *testing.T) {
	t.Parallel()

	ic := newTestIC(nil)
	_, err := EvaluateString(ic, `@tool("unterminated`, &fakeHost{})
	require.Error(t, err)
	verr, ok := vmcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, vmcperrors.TemplateSyntax, verr.Kind)
}
