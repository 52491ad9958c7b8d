package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oss-vmcp/vmcp/pkg/logger"
	"github.com/oss-vmcp/vmcp/pkg/vmcp"
)

// sseTransport is a long-lived event stream for server->client messages
// paired with a separate HTTP POST channel for client->server messages
// (spec §4.1). Responses are multiplexed back to callers by JSON-RPC id via
// a correlation table; a heartbeat timer downgrades the session to `error`
// when frames stop arriving.
type sseTransport struct {
	postURL    string
	headers    map[string]string
	auth       *authState
	httpClient *http.Client

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan rpcResponse

	heartbeatTimeout time.Duration
	lastHeartbeat    atomic.Int64 // unix nanos

	cancel context.CancelFunc
	done   chan struct{}

	closedMu sync.Mutex
	closed   bool
	onError  func(error)
}

func newSSETransport(ctx context.Context, server vmcp.UpstreamServer, httpClient *http.Client, auth *authState, onError func(error)) (transport, error) {
	heartbeat := server.HeartbeatTimeout
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatTimeout
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t := &sseTransport{
		postURL:          server.URL,
		headers:          server.Headers,
		auth:             auth,
		httpClient:       httpClient,
		pending:          make(map[int64]chan rpcResponse),
		heartbeatTimeout: heartbeat,
		cancel:           cancel,
		done:             make(chan struct{}),
		onError:          onError,
	}
	t.lastHeartbeat.Store(time.Now().UnixNano())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, server.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range server.Headers {
		req.Header.Set(k, v)
	}
	if err := auth.apply(req); err != nil {
		cancel()
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open SSE stream: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		cancel()
		return nil, &authChallengeError{cause: fmt.Errorf("SSE stream unauthorized")}
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected SSE status %d", resp.StatusCode)
	}

	go t.readLoop(resp.Body)
	go t.heartbeatWatch()

	return t, nil
}

// readLoop parses `event: message\ndata: <json>\n\n` frames and dispatches
// decoded JSON-RPC responses to waiting callers.
func (t *sseTransport) readLoop(body io.ReadCloser) {
	defer close(t.done)
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 {
				t.handleFrame(strings.Join(dataLines, "\n"))
				dataLines = dataLines[:0]
			}
		case strings.HasPrefix(line, "event:"):
			// heartbeat events reset liveness; message events carry data below.
			if strings.TrimSpace(strings.TrimPrefix(line, "event:")) == "heartbeat" {
				t.lastHeartbeat.Store(time.Now().UnixNano())
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (t *sseTransport) handleFrame(data string) {
	t.lastHeartbeat.Store(time.Now().UnixNano())

	var resp rpcResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		logger.Warnf("sse transport: malformed frame: %v", err)
		return
	}

	t.pendingMu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.pendingMu.Unlock()

	if ok {
		ch <- resp
		close(ch)
	}
}

func (t *sseTransport) heartbeatWatch() {
	ticker := time.NewTicker(t.heartbeatTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			last := time.Unix(0, t.lastHeartbeat.Load())
			if time.Since(last) > t.heartbeatTimeout {
				logger.Warnf("sse transport: heartbeat timeout exceeded, downgrading session to error")
				if t.onError != nil {
					t.onError(fmt.Errorf("heartbeat timeout exceeded (%s)", t.heartbeatTimeout))
				}
				return
			}
		}
	}
}

func (t *sseTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.postURL, bytes.NewReader(body))
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
		return nil, fmt.Errorf("post request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &authChallengeError{cause: fmt.Errorf("unauthorized posting to SSE channel")}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected POST status %d", resp.StatusCode)
	}

	select {
	case rpc := <-ch:
		if rpc.Error != nil {
			if rpc.Error.Code == -32601 {
				return nil, &unsupportedMethodError{msg: rpc.Error.Message}
			}
			return nil, fmt.Errorf("upstream returned JSON-RPC error %d: %s", rpc.Error.Code, rpc.Error.Message)
		}
		return rpc.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *sseTransport) Close() error {
	t.closedMu.Lock()
	defer t.closedMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}
