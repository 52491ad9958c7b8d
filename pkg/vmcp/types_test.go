package vmcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitySnapshot_Clone_IsIndependent(t *testing.T) {
	t.Parallel()

	original := &CapabilitySnapshot{
		Tools:        []ToolDescriptor{{Name: "add"}},
		Resources:    []ResourceDescriptor{{URI: "file:///a"}},
		DiscoveredAt: time.Now(),
	}

	clone := original.Clone()
	clone.Tools[0].Name = "mutated"
	clone.Resources = append(clone.Resources, ResourceDescriptor{URI: "file:///b"})

	assert.Equal(t, "add", original.Tools[0].Name)
	assert.Len(t, original.Resources, 1)
	assert.Len(t, clone.Resources, 2)
}

func TestCapabilitySnapshot_Clone_Nil(t *testing.T) {
	t.Parallel()
	var s *CapabilitySnapshot
	assert.Nil(t, s.Clone())
}

func TestInvocationContext_EnterRecursion_RespectsMaxDepth(t *testing.T) {
	t.Parallel()

	ic := NewInvocationContext(context.Background(), "vmcp-1", map[string]string{}, 2)

	assert.True(t, ic.EnterRecursion())
	assert.Equal(t, 1, ic.Depth())
	assert.True(t, ic.EnterRecursion())
	assert.Equal(t, 2, ic.Depth())
	assert.False(t, ic.EnterRecursion(), "third nested call should exceed max_depth=2")
}

func TestInvocationContext_Memo_RoundTrip(t *testing.T) {
	t.Parallel()

	ic := NewInvocationContext(context.Background(), "vmcp-1", nil, 8)

	_, ok := ic.MemoGet("tool:search:{}")
	assert.False(t, ok)

	ic.MemoPut("tool:search:{}", "X,Y,Z")
	v, ok := ic.MemoGet("tool:search:{}")
	assert.True(t, ok)
	assert.Equal(t, "X,Y,Z", v)
}

func TestInvocationContext_Child_SharesMemoAndEnv(t *testing.T) {
	t.Parallel()

	parent := NewInvocationContext(context.Background(), "vmcp-1", map[string]string{"K": "V"}, 8)
	parent.EnterRecursion()

	child := parent.Child(map[string]any{"topic": "rafts"})
	child.MemoPut("shared", "value")

	v, ok := parent.MemoGet("shared")
	assert.True(t, ok, "memo cache must be shared between parent and child contexts")
	assert.Equal(t, "value", v)
	assert.Equal(t, "V", child.Env["K"])
	assert.Equal(t, 1, child.Depth(), "child inherits the parent's current recursion depth")
}

func TestInvocationContext_Context_ReturnsUnderlying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ic := NewInvocationContext(ctx, "vmcp-1", nil, 8)
	assert.Equal(t, ctx, ic.Context())
}
