package composer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/cache"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/registry"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/tools"
)

func jsonRPCUpstream(t *testing.T, toolsJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[` + toolsJSON + `]}}`))
	}))
}

func newTestComposer(t *testing.T, def vmcp.VMCP, snapshots map[string]*vmcp.CapabilitySnapshot) *Composer {
	t.Helper()
	reg := registry.New(0, 0)
	c := cache.New()
	for id, snap := range snapshots {
		snap := snap
		c.Bind(id, func() (*vmcp.CapabilitySnapshot, error) { return snap, nil })
	}
	return New(def, reg, c, tools.Engines{}, map[string]string{})
}

func newTestIC() *vmcp.InvocationContext {
	return vmcp.NewInvocationContext(context.Background(), "vmcp-1", map[string]string{}, 8)
}

func TestComposer_ListTools_NoCollision_KeepsBareNames(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{Upstreams: []vmcp.UpstreamRef{{ServerID: "a"}}}
	c := newTestComposer(t, def, map[string]*vmcp.CapabilitySnapshot{
		"a": {Tools: []vmcp.ToolDescriptor{{Name: "search"}}},
	})

	got, err := c.ListTools(newTestIC())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "search", got[0].Name)
}

func TestComposer_ListTools_CustomAlwaysWinsBareName(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{
		Upstreams: []vmcp.UpstreamRef{{ServerID: "a"}},
		Tools:     []vmcp.CustomTool{{Name: "search", Kind: vmcp.CustomToolPrompt, Prompt: &vmcp.PromptToolSpec{Body: "x"}}},
	}
	c := newTestComposer(t, def, map[string]*vmcp.CapabilitySnapshot{
		"a": {Tools: []vmcp.ToolDescriptor{{Name: "search"}}},
	})
	c.reg.Register(vmcp.UpstreamServer{ID: "a", Name: "server-a"})

	got, err := c.ListTools(newTestIC())
	require.NoError(t, err)

	names := map[string]bool{}
	for _, d := range got {
		names[d.Name] = true
	}
	assert.True(t, names["search"], "custom tool keeps the bare name")
	assert.True(t, names["search@server-a"], "colliding upstream tool is suffixed")
	assert.Len(t, got, 2)
}

func TestComposer_ListTools_CrossUpstreamCollision_FirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{Upstreams: []vmcp.UpstreamRef{{ServerID: "a"}, {ServerID: "b"}}}
	c := newTestComposer(t, def, map[string]*vmcp.CapabilitySnapshot{
		"a": {Tools: []vmcp.ToolDescriptor{{Name: "search"}}},
		"b": {Tools: []vmcp.ToolDescriptor{{Name: "search"}}},
	})
	c.reg.Register(vmcp.UpstreamServer{ID: "a", Name: "alpha"})
	c.reg.Register(vmcp.UpstreamServer{ID: "b", Name: "beta"})

	got, err := c.ListTools(newTestIC())
	require.NoError(t, err)

	names := map[string]bool{}
	for _, d := range got {
		names[d.Name] = true
	}
	assert.True(t, names["search"], "first upstream in vMCP order keeps the bare name")
	assert.True(t, names["search@beta"], "later upstream in the collision is suffixed")
	assert.False(t, names["search@alpha"], "the first occurrence is never itself suffixed")
	assert.Len(t, got, 2)
}

func TestComposer_ListTools_IsIdempotentAcrossCalls(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{Upstreams: []vmcp.UpstreamRef{{ServerID: "a"}}}
	c := newTestComposer(t, def, map[string]*vmcp.CapabilitySnapshot{
		"a": {Tools: []vmcp.ToolDescriptor{{Name: "search"}}},
	})

	first, err := c.ListTools(newTestIC())
	require.NoError(t, err)
	second, err := c.ListTools(newTestIC())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComposer_BindEnv_OverridesMergeOverDefaults(t *testing.T) {
	t.Parallel()

	c := New(vmcp.VMCP{}, registry.New(0, 0), cache.New(), tools.Engines{}, map[string]string{"A": "1", "B": "2"})
	merged, err := c.BindEnv(map[string]string{"B": "override", "C": "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "override", "C": "3"}, merged)
}

func TestComposer_SystemPrompt_EmptyWhenUnset(t *testing.T) {
	t.Parallel()

	c := New(vmcp.VMCP{}, registry.New(0, 0), cache.New(), tools.Engines{}, map[string]string{})
	got, err := c.SystemPrompt(newTestIC())
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestComposer_SystemPrompt_RendersParams(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{SystemPrompt: "You are @param.role."}
	c := New(def, registry.New(0, 0), cache.New(), tools.Engines{}, map[string]string{})
	ic := newTestIC()
	ic.RequestArgs = map[string]any{"role": "a helpful assistant"}
	got, err := c.SystemPrompt(ic)
	require.NoError(t, err)
	assert.Equal(t, "You are a helpful assistant.", got)
}

func TestComposer_DispatchTool_UnknownTool(t *testing.T) {
	t.Parallel()

	c := New(vmcp.VMCP{}, registry.New(0, 0), cache.New(), tools.Engines{}, map[string]string{})
	_, err := c.DispatchTool(newTestIC(), "missing", map[string]any{})
	assert.Error(t, err)
}

func TestComposer_DispatchTool_CustomPromptTool(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{
		Tools: []vmcp.CustomTool{{
			Name:   "greet",
			Kind:   vmcp.CustomToolPrompt,
			Prompt: &vmcp.PromptToolSpec{Body: "Hi @param.name"},
		}},
	}
	engines := tools.Engines{Prompt: tools.NewPromptEngine(nil)}
	c := New(def, registry.New(0, 0), cache.New(), engines, map[string]string{})

	ic := newTestIC()
	result, err := c.DispatchTool(ic, "greet", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	parts, ok := result.([]any)
	require.True(t, ok)
	require.Len(t, parts, 1)
}

func TestComposer_ResolveResourceAlias(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{Resources: []vmcp.CustomResource{{URI: "file:///docs.txt", Name: "docs"}}}
	c := New(def, registry.New(0, 0), cache.New(), tools.Engines{}, map[string]string{})

	uri, ok := c.ResolveResourceAlias("docs")
	require.True(t, ok)
	assert.Equal(t, "file:///docs.txt", uri)

	_, ok = c.ResolveResourceAlias("missing")
	assert.False(t, ok)
}
