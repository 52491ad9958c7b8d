// Package vmcp defines the core data model of the Virtual MCP aggregator:
// upstream servers, capability snapshots, custom tools, and the vMCP
// composition itself. Subpackages (session, registry, cache, template,
// tools, composer, adapter) implement the engine around this model.
package vmcp

import (
	"context"
	"sync"
	"time"
)

// TransportKind identifies how an Upstream Session talks to its server.
type TransportKind string

// Supported upstream transports.
const (
	TransportHTTP TransportKind = "http"
	TransportSSE  TransportKind = "sse"
)

// SessionStatus is the last-known status of an Upstream Session (spec §4.1).
type SessionStatus string

// The Upstream Session state machine.
const (
	StatusIdle         SessionStatus = "idle"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusAuthRequired SessionStatus = "auth_required"
	StatusError        SessionStatus = "error"
)

// AuthKind identifies an authentication policy for an upstream server or a
// custom HTTP tool's auth binding.
type AuthKind string

// Supported auth policies.
const (
	AuthNone          AuthKind = "none"
	AuthBearer        AuthKind = "bearer"
	AuthAPIKey        AuthKind = "apikey"
	AuthBasic         AuthKind = "basic"
	AuthCustomHeaders AuthKind = "custom_header"
	AuthOAuth2        AuthKind = "oauth2"
)

// AuthPolicy configures how an Upstream Session or HTTP tool authenticates
// outbound requests.
type AuthPolicy struct {
	Kind AuthKind `json:"kind" yaml:"kind"`

	// Bearer / APIKey / Basic / CustomHeaders credentials.
	Token        string            `json:"token,omitempty" yaml:"token,omitempty"`
	HeaderName   string            `json:"header_name,omitempty" yaml:"header_name,omitempty"`
	Username     string            `json:"username,omitempty" yaml:"username,omitempty"`
	Password     string            `json:"password,omitempty" yaml:"password,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// OAuth2 authorization-code + PKCE configuration.
	OAuth *OAuthConfig `json:"oauth,omitempty" yaml:"oauth,omitempty"`
}

// OAuthConfig describes an OAuth 2.0 authorization-code-with-PKCE backend.
type OAuthConfig struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	AuthURL      string   `json:"auth_url" yaml:"auth_url"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	RedirectURL  string   `json:"redirect_url" yaml:"redirect_url"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// UpstreamServer is the persisted description of one upstream MCP server
// (spec §3).
type UpstreamServer struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Transport TransportKind     `json:"transport" yaml:"transport"`
	URL       string            `json:"url" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Auth      AuthPolicy        `json:"auth" yaml:"auth"`
	Enabled   bool              `json:"enabled" yaml:"enabled"`

	// HeartbeatTimeout bounds SSE liveness; zero uses the session default.
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout,omitempty" yaml:"heartbeat_timeout,omitempty"`
}

// Schema is a JSON-schema-shaped input/output schema, kept opaque here and
// checked by the composer's dispatch path via gojsonschema before a call
// reaches its engine or upstream session (composer.validateRequiredArgs).
type Schema map[string]any

// ToolDescriptor describes one tool exposed by an upstream or custom tool.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema Schema `json:"inputSchema,omitempty"`
}

// ResourceDescriptor describes one static resource.
type ResourceDescriptor struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// ResourceTemplateDescriptor describes one URI-templated resource family.
type ResourceTemplateDescriptor struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// PromptDescriptor describes one prompt.
type PromptDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema Schema `json:"inputSchema,omitempty"`
}

// CapabilitySnapshot is the atomically-replaced set of capabilities an
// upstream advertised at a point in time (spec §3, §4.3).
type CapabilitySnapshot struct {
	Tools             []ToolDescriptor
	Resources         []ResourceDescriptor
	ResourceTemplates []ResourceTemplateDescriptor
	Prompts           []PromptDescriptor
	DiscoveredAt      time.Time
	Stale             bool
}

// Clone returns a deep-enough copy for safe concurrent hand-off: descriptor
// slices are copied, but descriptor values themselves are immutable once
// built so their contents are shared.
func (s *CapabilitySnapshot) Clone() *CapabilitySnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Tools = append([]ToolDescriptor(nil), s.Tools...)
	out.Resources = append([]ResourceDescriptor(nil), s.Resources...)
	out.ResourceTemplates = append([]ResourceTemplateDescriptor(nil), s.ResourceTemplates...)
	out.Prompts = append([]PromptDescriptor(nil), s.Prompts...)
	return &out
}

// CustomToolKind discriminates the three custom tool variants (spec §3).
type CustomToolKind string

// The three custom tool variants.
const (
	CustomToolScript CustomToolKind = "script"
	CustomToolHTTP   CustomToolKind = "http"
	CustomToolPrompt CustomToolKind = "prompt"
)

// ResponseKind controls how the HTTP tool engine parses a 2xx response body.
type ResponseKind string

// Supported HTTP tool response kinds.
const (
	ResponseJSON   ResponseKind = "json"
	ResponseText   ResponseKind = "text"
	ResponseBinary ResponseKind = "binary"
)

// ScriptToolSpec is the Script custom tool variant.
type ScriptToolSpec struct {
	Language  string   `json:"language" yaml:"language"` // always "python"
	Source    string   `json:"source" yaml:"source"`
	EnvReads  []string `json:"env_reads,omitempty" yaml:"env_reads,omitempty"`
	AllowNet  bool     `json:"allow_net,omitempty" yaml:"allow_net,omitempty"`
	TimeoutMS int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// HTTPToolSpec is the HTTP custom tool variant.
type HTTPToolSpec struct {
	Method       string       `json:"method" yaml:"method"`
	URLTemplate  string       `json:"url_template" yaml:"url_template"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	BodyTemplate string       `json:"body_template,omitempty" yaml:"body_template,omitempty"`
	Auth         AuthPolicy   `json:"auth,omitempty" yaml:"auth,omitempty"`
	ResponseKind ResponseKind `json:"response_kind,omitempty" yaml:"response_kind,omitempty"`
}

// PromptToolSpec is the Prompt custom tool variant.
type PromptToolSpec struct {
	Body string `json:"body" yaml:"body"`
}

// CustomTool is a discriminated union over Script/HTTP/Prompt tool variants.
type CustomTool struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        CustomToolKind `json:"kind" yaml:"kind"`
	InputSchema Schema         `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`

	Script *ScriptToolSpec `json:"script,omitempty" yaml:"script,omitempty"`
	HTTP   *HTTPToolSpec   `json:"http,omitempty" yaml:"http,omitempty"`
	Prompt *PromptToolSpec `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// CustomResource is a literal or blob-backed resource owned directly by a
// vMCP rather than an upstream.
type CustomResource struct {
	URI      string `json:"uri" yaml:"uri"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	MIMEType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`

	// Exactly one of Bytes or BlobID is set.
	Bytes  []byte `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	BlobID string `json:"blob_id,omitempty" yaml:"blob_id,omitempty"`
}

// CustomPrompt is a named, templated prompt owned by a vMCP.
type CustomPrompt struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema Schema `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	Body        string `json:"body" yaml:"body"`
}

// EnvVar is one vMCP environment binding. Secret values are never echoed
// in error details or usage logs.
type EnvVar struct {
	Name   string `json:"name" yaml:"name"`
	Value  string `json:"value" yaml:"value"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// UpstreamRef is an ordered reference from a vMCP to one upstream server.
type UpstreamRef struct {
	ServerID string `json:"server_id" yaml:"server_id"`
}

// VMCP is a named, persistent composition (spec §3).
type VMCP struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Upstreams []UpstreamRef    `json:"upstreams" yaml:"upstreams"`
	Tools     []CustomTool     `json:"tools,omitempty" yaml:"tools,omitempty"`
	Resources []CustomResource `json:"resources,omitempty" yaml:"resources,omitempty"`
	Prompts   []CustomPrompt   `json:"prompts,omitempty" yaml:"prompts,omitempty"`

	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Env          []EnvVar `json:"env,omitempty" yaml:"env,omitempty"`

	// RequestDeadline bounds every inbound call end-to-end; zero uses the
	// process default (DEFAULT_REQUEST_DEADLINE_MS).
	RequestDeadline time.Duration `json:"request_deadline,omitempty" yaml:"request_deadline,omitempty"`
}

// InvocationContext is the short-lived, per-inbound-call value threaded
// through template evaluation, tool execution, and upstream calls
// (spec §3). It is created at request entry and discarded at response send
// or cancellation; nothing outlives it.
type InvocationContext struct {
	ctx context.Context //nolint:containedctx // deliberately bundled per request, matching the spec's per-call value object

	VMCPID string
	// Env is frozen at construction: callers must not mutate it after
	// NewInvocationContext returns.
	Env map[string]string

	RequestArgs map[string]any

	Deadline time.Time

	depth    int
	maxDepth int

	memoMu sync.Mutex
	memo   map[string]string
}

// NewInvocationContext builds an Invocation Context for one inbound MCP
// call. env must already be frozen (no further mutation) by the caller.
func NewInvocationContext(ctx context.Context, vmcpID string, env map[string]string, maxDepth int) *InvocationContext {
	return &InvocationContext{
		ctx:      ctx,
		VMCPID:   vmcpID,
		Env:      env,
		maxDepth: maxDepth,
		memo:     make(map[string]string),
	}
}

// Context returns the underlying cancellation/deadline-bearing context.
func (c *InvocationContext) Context() context.Context { return c.ctx }

// WithContext returns a copy of c carrying ctx in place of its current
// context, used to thread a tracing span into a nested invocation without
// disturbing the rest of the call's state.
func (c *InvocationContext) WithContext(ctx context.Context) *InvocationContext {
	return &InvocationContext{
		ctx:         ctx,
		VMCPID:      c.VMCPID,
		Env:         c.Env,
		RequestArgs: c.RequestArgs,
		Deadline:    c.Deadline,
		depth:       c.depth,
		maxDepth:    c.maxDepth,
		memo:        c.memo,
	}
}

// Child returns a new Invocation Context sharing the same environment and
// memoization cache but scoped to a nested tool/prompt invocation (used
// when a custom tool body itself dispatches through the composer). Args
// become the nested invocation's parameter namespace.
func (c *InvocationContext) Child(args map[string]any) *InvocationContext {
	return &InvocationContext{
		ctx:         c.ctx,
		VMCPID:      c.VMCPID,
		Env:         c.Env,
		RequestArgs: args,
		Deadline:    c.Deadline,
		depth:       c.depth,
		maxDepth:    c.maxDepth,
		memo:        c.memo,
	}
}

// EnterRecursion increments the recursion depth for a nested @tool/@prompt/
// @resource evaluation. It returns false when max_depth would be exceeded.
func (c *InvocationContext) EnterRecursion() (ok bool) {
	if c.depth >= c.maxDepth {
		return false
	}
	c.depth++
	return true
}

// Depth returns the current recursion depth.
func (c *InvocationContext) Depth() int { return c.depth }

// MemoGet returns a previously memoized rendering for key, if any.
func (c *InvocationContext) MemoGet(key string) (string, bool) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()
	v, ok := c.memo[key]
	return v, ok
}

// MemoPut stores a rendering for key for the remainder of this request.
func (c *InvocationContext) MemoPut(key, value string) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()
	c.memo[key] = value
}
