package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
)

func TestPromptEngine_Execute_RendersBodyAsTextContent(t *testing.T) {
	t.Parallel()

	eng := NewPromptEngine(noopHost{})
	tool := vmcp.CustomTool{
		Name:   "greet",
		Kind:   vmcp.CustomToolPrompt,
		Prompt: &vmcp.PromptToolSpec{Body: "Hello @param.name, {{#if urgent}}now!{{/if}}"},
	}

	ic := vmcp.NewInvocationContext(context.Background(), "vmcp-1", map[string]string{}, 8)
	result, err := eng.Execute(ic, tool, map[string]any{"name": "Ada", "urgent": true})
	require.NoError(t, err)

	parts, ok := result.([]any)
	require.True(t, ok)
	require.Len(t, parts, 1)
	part := parts[0].(map[string]any)
	assert.Equal(t, "Hello Ada, now!", part["text"])
}

func TestRenderPromptBody_UnknownParamRendersEmpty(t *testing.T) {
	t.Parallel()

	ic := vmcp.NewInvocationContext(context.Background(), "vmcp-1", map[string]string{}, 8)
	got, err := RenderPromptBody(ic, "[@param.missing]", map[string]any{}, noopHost{})
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}
