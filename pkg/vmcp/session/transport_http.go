package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// httpTransport implements request/response JSON-RPC over HTTPS with no
// server-initiated stream (spec §4.1).
type httpTransport struct {
	url        string
	headers    map[string]string
	auth       *authState
	httpClient *http.Client
	nextID     atomic.Int64
}

func newHTTPTransport(server vmcp.UpstreamServer, httpClient *http.Client, auth *authState) (transport, error) {
	return &httpTransport{
		url:        server.URL,
		headers:    server.Headers,
		auth:       auth,
		httpClient: httpClient,
	}, nil
}

func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if err := t.auth.apply(req); err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if refreshErr := t.auth.refresh(ctx); refreshErr != nil {
			return nil, refreshErr
		}
		return t.callOnce(ctx, id, body)
	}

	return decodeRPCResponse(resp)
}

// callOnce retries exactly once after a successful token refresh.
func (t *httpTransport) callOnce(ctx context.Context, id int64, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if err := t.auth.apply(req); err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &authChallengeError{cause: fmt.Errorf("unauthorized after refresh, id=%d", id)}
	}
	return decodeRPCResponse(resp)
}

func decodeRPCResponse(resp *http.Response) (json.RawMessage, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected HTTP status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return nil, fmt.Errorf("malformed JSON-RPC body: %w", err)
	}
	if rpc.Error != nil {
		if rpc.Error.Code == -32601 { // method not found -> treated as unsupported capability
			return nil, &unsupportedMethodError{msg: rpc.Error.Message}
		}
		return nil, fmt.Errorf("upstream returned JSON-RPC error %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	return rpc.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (t *httpTransport) Close() error { return nil }

type unsupportedMethodError struct{ msg string }

func (e *unsupportedMethodError) Error() string { return e.msg }
