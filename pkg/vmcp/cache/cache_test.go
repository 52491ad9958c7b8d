package cache

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
)

func TestCache_Get_DiscoversOnceOnFirstAccess(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New()
	c.Bind("a", func() (*vmcp.CapabilitySnapshot, error) {
		atomic.AddInt64(&calls, 1)
		return &vmcp.CapabilitySnapshot{Tools: []vmcp.ToolDescriptor{{Name: "add"}}}, nil
	})

	snap1, err := c.Get("a")
	require.NoError(t, err)
	snap2, err := c.Get("a")
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "discovery must run exactly once on first access")
	assert.Same(t, snap1, snap2, "two back-to-back reads with no invalidation return the same snapshot")
}

func TestCache_Get_UnboundUpstream(t *testing.T) {
	t.Parallel()

	c := New()
	_, err := c.Get("unknown")
	assert.Error(t, err)
}

func TestCache_Refresh_ReplacesSnapshot(t *testing.T) {
	t.Parallel()

	version := 0
	c := New()
	c.Bind("a", func() (*vmcp.CapabilitySnapshot, error) {
		version++
		return &vmcp.CapabilitySnapshot{Tools: []vmcp.ToolDescriptor{{Name: "v"}}, Stale: version > 1}, nil
	})

	first, err := c.Get("a")
	require.NoError(t, err)
	assert.False(t, first.Stale)

	second, err := c.Refresh("a")
	require.NoError(t, err)
	assert.True(t, second.Stale)

	fromGet, err := c.Get("a")
	require.NoError(t, err)
	assert.Same(t, second, fromGet, "Get after Refresh observes the replaced snapshot without re-discovering")
}

func TestCache_Clear_ForcesRediscoveryOnNextGet(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New()
	c.Bind("a", func() (*vmcp.CapabilitySnapshot, error) {
		atomic.AddInt64(&calls, 1)
		return &vmcp.CapabilitySnapshot{}, nil
	})

	_, err := c.Get("a")
	require.NoError(t, err)
	c.Clear("a")
	_, err = c.Get("a")
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestCache_Unbind_RemovesEntry(t *testing.T) {
	t.Parallel()

	c := New()
	c.Bind("a", func() (*vmcp.CapabilitySnapshot, error) { return &vmcp.CapabilitySnapshot{}, nil })
	c.Unbind("a")

	_, err := c.Get("a")
	assert.Error(t, err)
}

func TestCache_Get_EmptySequenceOnDiscoveryOfUnsupportedKind(t *testing.T) {
	t.Parallel()

	c := New()
	c.Bind("a", func() (*vmcp.CapabilitySnapshot, error) {
		// Simulates DiscoverAll already having downgraded a NotFound for
		// one capability kind to an empty sequence upstream.
		return &vmcp.CapabilitySnapshot{Prompts: []vmcp.PromptDescriptor{}}, nil
	})

	snap, err := c.Get("a")
	require.NoError(t, err)
	assert.NotNil(t, snap.Prompts)
	assert.Empty(t, snap.Prompts)
}
