package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMustache_BareVariable(t *testing.T) {
	t.Parallel()

	got := RenderMustache("Hello {{name}}!", map[string]any{"name": "Ada"})
	assert.Equal(t, "Hello Ada!", got)
}

func TestRenderMustache_UnknownVariableRendersEmpty(t *testing.T) {
	t.Parallel()

	got := RenderMustache("Hello {{missing}}!", map[string]any{})
	assert.Equal(t, "Hello !", got)
}

func TestRenderMustache_DottedPath(t *testing.T) {
	t.Parallel()

	params := map[string]any{"user": map[string]any{"name": "Grace"}}
	got := RenderMustache("{{user.name}}", params)
	assert.Equal(t, "Grace", got)
}

func TestRenderMustache_IfTrueRendersBody(t *testing.T) {
	t.Parallel()

	got := RenderMustache("{{#if active}}on{{/if}}", map[string]any{"active": true})
	assert.Equal(t, "on", got)
}

func TestRenderMustache_IfFalseOmitsBody(t *testing.T) {
	t.Parallel()

	got := RenderMustache("{{#if active}}on{{/if}}", map[string]any{"active": false})
	assert.Equal(t, "", got)
}

func TestRenderMustache_IfMissingConditionTreatedFalse(t *testing.T) {
	t.Parallel()

	got := RenderMustache("x{{#if missing}}on{{/if}}y", map[string]any{})
	assert.Equal(t, "xy", got)
}

func TestRenderMustache_EachIteratesItems(t *testing.T) {
	t.Parallel()

	params := map[string]any{"items": []any{
		map[string]any{"name": "a"},
		map[string]any{"name": "b"},
	}}
	got := RenderMustache("{{#each items}}[{{name}}]{{/each}}", params)
	assert.Equal(t, "[a][b]", got)
}

func TestRenderMustache_EachOverScalarsUsesDotContext(t *testing.T) {
	t.Parallel()

	params := map[string]any{"items": []any{"x", "y"}}
	got := RenderMustache("{{#each items}}{{.}},{{/each}}", params)
	assert.Equal(t, "x,y,", got)
}

func TestRenderMustache_EachOverEmptySliceRendersNothing(t *testing.T) {
	t.Parallel()

	got := RenderMustache("{{#each items}}x{{/each}}", map[string]any{"items": []any{}})
	assert.Equal(t, "", got)
}

func TestRenderMustache_NestedIfInsideEach(t *testing.T) {
	t.Parallel()

	params := map[string]any{"items": []any{
		map[string]any{"name": "a", "flag": true},
		map[string]any{"name": "b", "flag": false},
	}}
	got := RenderMustache("{{#each items}}{{name}}{{#if flag}}!{{/if}} {{/each}}", params)
	assert.Equal(t, "a! b ", got)
}

func TestRenderMustache_NoTagsPassesThrough(t *testing.T) {
	t.Parallel()

	got := RenderMustache("plain text, no tags", map[string]any{})
	assert.Equal(t, "plain text, no tags", got)
}
