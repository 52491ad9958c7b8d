package vmcperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with cause",
			err:  New(UpstreamTimeout, "deadline exceeded", errors.New("context deadline exceeded")),
			want: "upstream_timeout: deadline exceeded: context deadline exceeded",
		},
		{
			name: "without cause",
			err:  New(BadArguments, "missing field x", nil),
			want: "bad_arguments: missing field x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := New(ToolCrash, "tool crashed", cause)
	assert.Same(t, cause, err.Unwrap())

	errNoCause := New(ToolCrash, "tool crashed", nil)
	assert.Nil(t, errNoCause.Unwrap())
}

func TestCodeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want int
	}{
		{BadArguments, CodeInvalidParams},
		{UnknownTool, CodeMethodNotFound},
		{UnknownResource, CodeMethodNotFound},
		{UnknownPrompt, CodeMethodNotFound},
		{UpstreamTimeout, CodeServerError},
		{TemplateRecursion, CodeServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeFor(tt.kind), "kind=%s", tt.kind)
	}
}

func TestError_WithHelpers(t *testing.T) {
	t.Parallel()

	base := New(AuthRequired, "token refresh failed", nil)
	decorated := base.WithServer("mathA").WithDetail("401 from upstream").WithAuthorizationURL("https://auth.example.com/authorize")

	// Original is untouched (copy semantics).
	assert.Empty(t, base.Server)
	assert.Empty(t, base.Detail)
	assert.Empty(t, base.AuthorizationURL)

	assert.Equal(t, "mathA", decorated.Server)
	assert.Equal(t, "401 from upstream", decorated.Detail)
	assert.Equal(t, "https://auth.example.com/authorize", decorated.AuthorizationURL)

	data := decorated.Data()
	assert.Equal(t, "auth_required", data["kind"])
	assert.Equal(t, "mathA", data["server"])
	assert.Equal(t, "401 from upstream", data["detail"])
	assert.Equal(t, "https://auth.example.com/authorize", data["authorization_url"])
}

func TestError_DataOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	err := New(UnknownTool, "no such tool", nil)
	data := err.Data()

	assert.Equal(t, map[string]any{"kind": "unknown_tool"}, data)
}

func TestAs(t *testing.T) {
	t.Parallel()

	inner := New(UpstreamProtocol, "malformed response", nil)
	wrapped := errWrap{inner}

	got, ok := As(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, got)

	_, ok = As(errors.New("plain error"))
	assert.False(t, ok)
}

type errWrap struct{ err error }

func (e errWrap) Error() string { return e.err.Error() }
func (e errWrap) Unwrap() error { return e.err }
