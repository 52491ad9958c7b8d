// Package session implements the Upstream Session: one logical, long-lived
// channel to one upstream MCP server, exposing MCP-level operations over
// either an HTTP or an SSE transport (spec §4.1).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oss-vmcp/vmcp/pkg/logger"
	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// DefaultHeartbeatTimeout is used by SSE sessions when the server config
// does not override it.
const DefaultHeartbeatTimeout = 45 * time.Second

// transport is the minimal contract a wire transport must satisfy. Both
// HTTP and SSE implementations serialize writes internally and multiplex
// responses by JSON-RPC id, so Call is safe for concurrent use.
type transport interface {
	// Call sends one JSON-RPC request and returns its raw result payload,
	// or an error already classified into the vmcperrors taxonomy.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Close tears the transport down.
	Close() error
}

// Session owns exactly one logical channel to one upstream MCP server.
type Session struct {
	server vmcp.UpstreamServer

	mu        sync.RWMutex
	status    vmcp.SessionStatus
	lastErr   error
	transport transport
	authState *authState

	httpClient *http.Client
}

// New constructs an idle Session for the given upstream server description.
func New(server vmcp.UpstreamServer, httpClient *http.Client) *Session {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Session{
		server:     server,
		status:     vmcp.StatusIdle,
		httpClient: httpClient,
		authState:  newAuthState(server.Auth),
	}
}

// Status returns the session's last-known status.
func (s *Session) Status() vmcp.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError returns the error that caused the last transition to `error`,
// if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ServerID returns the id of the upstream server this session connects to.
func (s *Session) ServerID() string { return s.server.ID }

// ServerName returns the human name of the upstream server.
func (s *Session) ServerName() string { return s.server.Name }

func (s *Session) setStatus(status vmcp.SessionStatus, err error) {
	s.mu.Lock()
	s.status = status
	s.lastErr = err
	s.mu.Unlock()
}

// Connect transitions the session from any terminal state to `connecting`
// and attempts to establish the underlying transport. On success the
// session becomes `connected`; on an auth challenge it becomes
// `auth_required`; on any other transport failure it becomes `error`.
func (s *Session) Connect(ctx context.Context) error {
	s.setStatus(vmcp.StatusConnecting, nil)

	operation := func() (transport, error) {
		var (
			t   transport
			err error
		)
		switch s.server.Transport {
		case vmcp.TransportSSE:
			t, err = newSSETransport(ctx, s.server, s.httpClient, s.authState, func(cause error) {
				s.setStatus(vmcp.StatusError, cause)
			})
		default:
			t, err = newHTTPTransport(s.server, s.httpClient, s.authState)
		}
		return t, err
	}

	t, err := operation()
	if err != nil {
		if isAuthChallenge(err) {
			s.setStatus(vmcp.StatusAuthRequired, err)
			return vmcperrors.New(vmcperrors.AuthRequired, "upstream requires authorization", err).
				WithServer(s.server.Name).
				WithAuthorizationURL(s.authState.authorizationURL())
		}
		s.setStatus(vmcp.StatusError, err)
		return vmcperrors.New(vmcperrors.UpstreamUnavailable, "failed to connect to upstream", err).
			WithServer(s.server.Name)
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	s.setStatus(vmcp.StatusConnected, nil)
	logger.Infof("upstream %q connected (%s)", s.server.Name, s.server.Transport)
	return nil
}

// Disconnect tears the channel down to `disconnected`.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			logger.Warnf("error closing upstream %q transport: %v", s.server.Name, err)
		}
	}
	s.setStatus(vmcp.StatusDisconnected, nil)
	return nil
}

// ClearAuth wipes stored OAuth tokens and forces the session to
// `disconnected`.
func (s *Session) ClearAuth() {
	s.authState.clear()
	_ = s.Disconnect()
}

// ensureConnected performs the "implicit reconnect" described in spec §4.1:
// a call made while not `connected` gets one reconnect attempt before
// failing.
func (s *Session) ensureConnected(ctx context.Context) (transport, error) {
	s.mu.RLock()
	status := s.status
	t := s.transport
	s.mu.RUnlock()

	if status == vmcp.StatusConnected && t != nil {
		return t, nil
	}

	if err := s.Connect(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	t = s.transport
	s.mu.RUnlock()
	return t, nil
}

func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	result, err := t.Call(ctx, method, params)
	if err != nil {
		return nil, s.classify(method, err)
	}
	return result, nil
}

func (s *Session) classify(method string, err error) error {
	if verr, ok := vmcperrors.As(err); ok {
		return verr.WithServer(s.server.Name)
	}

	switch {
	case context.DeadlineExceeded == err || isDeadlineErr(err):
		return vmcperrors.New(vmcperrors.UpstreamTimeout, fmt.Sprintf("%s timed out", method), err).WithServer(s.server.Name)
	case isUnsupportedMethod(err):
		return vmcperrors.New(vmcperrors.UpstreamProtocol, fmt.Sprintf("%s not supported by upstream", method), err).
			WithServer(s.server.Name).
			WithDetail("method_not_supported")
	case isAuthChallenge(err):
		s.setStatus(vmcp.StatusAuthRequired, err)
		return vmcperrors.New(vmcperrors.AuthRequired, "upstream requires authorization", err).
			WithServer(s.server.Name).
			WithAuthorizationURL(s.authState.authorizationURL())
	default:
		s.setStatus(vmcp.StatusError, err)
		return vmcperrors.New(vmcperrors.UpstreamProtocol, fmt.Sprintf("%s failed", method), err).WithServer(s.server.Name)
	}
}

func isUnsupportedMethod(err error) bool {
	_, ok := err.(*unsupportedMethodError)
	return ok
}

func isDeadlineErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// ListTools returns the upstream's raw tool list.
func (s *Session) ListTools(ic *vmcp.InvocationContext) ([]vmcp.ToolDescriptor, error) {
	raw, err := s.call(ic.Context(), "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tools []vmcp.ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, vmcperrors.New(vmcperrors.UpstreamProtocol, "malformed tools/list response", err).WithServer(s.server.Name)
	}
	return resp.Tools, nil
}

// ListResources returns the upstream's raw resource list.
func (s *Session) ListResources(ic *vmcp.InvocationContext) ([]vmcp.ResourceDescriptor, error) {
	raw, err := s.call(ic.Context(), "resources/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Resources []vmcp.ResourceDescriptor `json:"resources"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, vmcperrors.New(vmcperrors.UpstreamProtocol, "malformed resources/list response", err).WithServer(s.server.Name)
	}
	return resp.Resources, nil
}

// ListResourceTemplates returns the upstream's raw resource-template list.
func (s *Session) ListResourceTemplates(ic *vmcp.InvocationContext) ([]vmcp.ResourceTemplateDescriptor, error) {
	raw, err := s.call(ic.Context(), "resources/templates/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		ResourceTemplates []vmcp.ResourceTemplateDescriptor `json:"resourceTemplates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, vmcperrors.New(vmcperrors.UpstreamProtocol, "malformed resources/templates/list response", err).WithServer(s.server.Name)
	}
	return resp.ResourceTemplates, nil
}

// ListPrompts returns the upstream's raw prompt list.
func (s *Session) ListPrompts(ic *vmcp.InvocationContext) ([]vmcp.PromptDescriptor, error) {
	raw, err := s.call(ic.Context(), "prompts/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Prompts []vmcp.PromptDescriptor `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, vmcperrors.New(vmcperrors.UpstreamProtocol, "malformed prompts/list response", err).WithServer(s.server.Name)
	}
	return resp.Prompts, nil
}

// CallTool invokes a tool by its upstream-local name.
func (s *Session) CallTool(ic *vmcp.InvocationContext, name string, args map[string]any) (json.RawMessage, error) {
	raw, err := s.call(ic.Context(), "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var probe struct {
		IsError bool `json:"isError"`
	}
	if jsonErr := json.Unmarshal(raw, &probe); jsonErr == nil && probe.IsError {
		return nil, vmcperrors.New(vmcperrors.UpstreamToolError, fmt.Sprintf("tool %q returned an error result", name), nil).
			WithServer(s.server.Name).
			WithDetail(string(raw))
	}
	return raw, nil
}

// ReadResource reads a resource by URI.
func (s *Session) ReadResource(ic *vmcp.InvocationContext, uri string) (json.RawMessage, error) {
	return s.call(ic.Context(), "resources/read", map[string]any{"uri": uri})
}

// GetPrompt renders a prompt by name.
func (s *Session) GetPrompt(ic *vmcp.InvocationContext, name string, args map[string]any) (json.RawMessage, error) {
	return s.call(ic.Context(), "prompts/get", map[string]any{"name": name, "arguments": args})
}

// Ping performs a liveness check.
func (s *Session) Ping(ic *vmcp.InvocationContext) error {
	_, err := s.call(ic.Context(), "ping", map[string]any{})
	return err
}

// DiscoverAll performs a full capability discovery, treating NotFound /
// MethodNotSupported responses for any one capability kind as an empty
// sequence rather than a failure (spec §4.3).
func (s *Session) DiscoverAll(ic *vmcp.InvocationContext) (*vmcp.CapabilitySnapshot, error) {
	snap := &vmcp.CapabilitySnapshot{DiscoveredAt: time.Now()}

	tools, err := s.ListTools(ic)
	if err != nil && !isMethodUnsupported(err) {
		return nil, err
	}
	snap.Tools = tools

	resources, err := s.ListResources(ic)
	if err != nil && !isMethodUnsupported(err) {
		return nil, err
	}
	snap.Resources = resources

	templates, err := s.ListResourceTemplates(ic)
	if err != nil && !isMethodUnsupported(err) {
		return nil, err
	}
	snap.ResourceTemplates = templates

	prompts, err := s.ListPrompts(ic)
	if err != nil && !isMethodUnsupported(err) {
		return nil, err
	}
	snap.Prompts = prompts

	return snap, nil
}

func isMethodUnsupported(err error) bool {
	verr, ok := vmcperrors.As(err)
	return ok && verr.Kind == vmcperrors.UpstreamProtocol && verr.Detail == "method_not_supported"
}
