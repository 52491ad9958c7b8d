package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderToolResult_BareString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello", RenderToolResult("hello"))
}

func TestRenderToolResult_TextContentParts_JoinedByNewline(t *testing.T) {
	t.Parallel()

	parts := []any{
		map[string]any{"type": "text", "text": "line one"},
		map[string]any{"type": "text", "text": "line two"},
	}
	assert.Equal(t, "line one\nline two", RenderToolResult(parts))
}

func TestRenderToolResult_BinaryPart_RendersPlaceholder(t *testing.T) {
	t.Parallel()

	parts := []any{
		map[string]any{"type": "image", "mimeType": "image/png", "data": "aGVsbG8="},
	}
	got := RenderToolResult(parts)
	assert.Contains(t, got, "[binary:image/png:")
	assert.Contains(t, got, "bytes]")
}

func TestRenderToolResult_StructuredValue_CompactJSON(t *testing.T) {
	t.Parallel()

	got := RenderToolResult(map[string]any{"ok": true, "count": 3.0})
	assert.Equal(t, `{"count":3,"ok":true}`, got)
}

func TestRenderToolResult_MixedContentParts(t *testing.T) {
	t.Parallel()

	parts := []any{
		map[string]any{"type": "text", "text": "preamble"},
		map[string]any{"type": "audio", "mimeType": "audio/wav", "blob": "abcd"},
	}
	got := RenderToolResult(parts)
	assert.Contains(t, got, "preamble\n[binary:audio/wav:")
}
