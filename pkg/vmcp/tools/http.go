package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/template"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// DefaultHTTPConnectTimeout and DefaultHTTPTotalTimeout bound an HTTP tool
// invocation (spec §4.5).
const (
	DefaultHTTPConnectTimeout = 10 * time.Second
	DefaultHTTPTotalTimeout   = 60 * time.Second
	maxHTTPRedirects          = 5
)

// HTTPEngine runs HTTP custom tools: it renders method/URL/headers/body
// through the Template Engine, applies the tool's auth binding, and
// interprets the response per response_kind.
type HTTPEngine struct {
	host   template.Host
	client *http.Client
}

// NewHTTPEngine builds an HTTPEngine. host resolves nested @tool/@resource/
// @prompt/@config expressions inside the tool's templated fields.
func NewHTTPEngine(host template.Host) *HTTPEngine {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: DefaultHTTPConnectTimeout}).DialContext
	client := &http.Client{
		Transport: transport,
		Timeout:   DefaultHTTPTotalTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return fmt.Errorf("stopped after %d redirects", maxHTTPRedirects)
			}
			return nil
		},
	}
	return &HTTPEngine{host: host, client: client}
}

func (e *HTTPEngine) Execute(ic *vmcp.InvocationContext, tool vmcp.CustomTool, args map[string]any) (any, error) {
	if tool.HTTP == nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, nil, "custom tool %q declared kind http with no http spec", tool.Name)
	}
	spec := tool.HTTP

	child := ic.Child(args)

	url, err := template.EvaluateString(child, spec.URLTemplate, e.host)
	if err != nil {
		return nil, err
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if spec.BodyTemplate != "" {
		rendered, err := template.EvaluateString(child, spec.BodyTemplate, e.host)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBufferString(rendered)
	}

	ctx, cancel := context.WithTimeout(ic.Context(), DefaultHTTPTotalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.ToolCrash, err, "http tool %q: building request", tool.Name)
	}

	for name, headerTemplate := range spec.Headers {
		rendered, err := template.EvaluateString(child, headerTemplate, e.host)
		if err != nil {
			return nil, err
		}
		req.Header.Set(name, rendered)
	}

	if err := applyAuth(req, spec.Auth); err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, vmcperrors.Newf(vmcperrors.ToolTimeout, err, "http tool %q exceeded %s", tool.Name, DefaultHTTPTotalTimeout)
		}
		return nil, vmcperrors.Newf(vmcperrors.ToolCrash, err, "http tool %q: request failed", tool.Name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.ToolBadOutput, err, "http tool %q: reading response body", tool.Name)
	}

	if resp.StatusCode >= 400 {
		return nil, vmcperrors.Newf(vmcperrors.ToolHTTPStatus, nil, "http tool %q: upstream returned %d", tool.Name, resp.StatusCode).
			WithDetail(truncate(string(respBody), 1024))
	}

	return decodeHTTPResponse(spec.ResponseKind, respBody, resp.Header.Get("Content-Type"))
}

func decodeHTTPResponse(kind vmcp.ResponseKind, body []byte, contentType string) (any, error) {
	switch kind {
	case vmcp.ResponseBinary:
		return map[string]any{"type": "blob", "mimeType": contentType, "data": body}, nil
	case vmcp.ResponseText, "":
		return string(body), nil
	case vmcp.ResponseJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, vmcperrors.Newf(vmcperrors.ToolBadOutput, err, "response_kind json: body is not valid JSON")
		}
		return v, nil
	default:
		return nil, vmcperrors.Newf(vmcperrors.Internal, nil, "unknown response_kind %q", kind)
	}
}

// applyAuth binds an HTTP tool's static auth policy to the outbound
// request. OAuth2 bindings are not supported for custom tools (spec
// Non-goals: only upstream sessions carry the full OAuth2 flow); a tool
// declaring oauth2 auth fails fast rather than silently sending an
// unauthenticated request.
func applyAuth(req *http.Request, policy vmcp.AuthPolicy) error {
	switch policy.Kind {
	case "", vmcp.AuthNone:
		return nil
	case vmcp.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+policy.Token)
	case vmcp.AuthAPIKey:
		name := policy.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, policy.Token)
	case vmcp.AuthBasic:
		req.SetBasicAuth(policy.Username, policy.Password)
	case vmcp.AuthCustomHeaders:
		for k, v := range policy.Headers {
			req.Header.Set(k, v)
		}
	case vmcp.AuthOAuth2:
		return vmcperrors.New(vmcperrors.AuthRequired, "http custom tools do not support oauth2 auth bindings", nil)
	default:
		return vmcperrors.Newf(vmcperrors.Internal, nil, "unknown auth kind %q", policy.Kind)
	}
	return nil
}
