package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/cache"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/registry"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/tools"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

var requireFieldSchema = vmcp.Schema{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"name": map[string]any{"type": "string"},
	},
}

func TestComposer_DispatchTool_CustomTool_MissingRequiredField_BadArguments(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{
		Tools: []vmcp.CustomTool{{
			Name:        "greet",
			Kind:        vmcp.CustomToolPrompt,
			Prompt:      &vmcp.PromptToolSpec{Body: "Hi @param.name"},
			InputSchema: requireFieldSchema,
		}},
	}
	engines := tools.Engines{Prompt: tools.NewPromptEngine(nil)}
	c := New(def, registry.New(0, 0), cache.New(), engines, map[string]string{})

	_, err := c.DispatchTool(newTestIC(), "greet", map[string]any{})
	require.Error(t, err)
	vErr, ok := vmcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, vmcperrors.BadArguments, vErr.Kind)
}

func TestComposer_DispatchTool_CustomTool_ExtraFieldsPassThrough(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{
		Tools: []vmcp.CustomTool{{
			Name:        "greet",
			Kind:        vmcp.CustomToolPrompt,
			Prompt:      &vmcp.PromptToolSpec{Body: "Hi @param.name"},
			InputSchema: requireFieldSchema,
		}},
	}
	engines := tools.Engines{Prompt: tools.NewPromptEngine(nil)}
	c := New(def, registry.New(0, 0), cache.New(), engines, map[string]string{})

	_, err := c.DispatchTool(newTestIC(), "greet", map[string]any{"name": "Ada", "extra": "ignored"})
	assert.NoError(t, err)
}

func TestComposer_DispatchTool_UpstreamTool_MissingRequiredField_BadArguments(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{Upstreams: []vmcp.UpstreamRef{{ServerID: "a"}}}
	c := newTestComposer(t, def, map[string]*vmcp.CapabilitySnapshot{
		"a": {Tools: []vmcp.ToolDescriptor{{Name: "search", InputSchema: requireFieldSchema}}},
	})

	// No upstream server is registered: if validation didn't short-circuit
	// before dispatch, this would fail with an upstream/session error
	// instead of BadArguments.
	_, err := c.DispatchTool(newTestIC(), "search", map[string]any{})
	require.Error(t, err)
	vErr, ok := vmcperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, vmcperrors.BadArguments, vErr.Kind)
}
