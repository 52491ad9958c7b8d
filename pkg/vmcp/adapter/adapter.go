// Package adapter implements the MCP Protocol Adapter: it terminates
// JSON-RPC over HTTP at `/private/{vmcp_name}/vmcp`, resolves which vMCP a
// request targets from the URL path, and translates each MCP method into
// a Composer call, mapping the result or error back into a JSON-RPC
// envelope (spec §4.7, §6, §7).
package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oss-vmcp/vmcp/pkg/logger"
	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/composer"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// tracer opens one span per inbound MCP request. With no SDK registered
// the global TracerProvider defaults to a no-op, so tracing is always-on
// but only costs anything once an exporter is configured.
var tracer = otel.Tracer("github.com/oss-vmcp/vmcp/pkg/vmcp/adapter")

// DefaultRequestDeadline bounds an inbound call end-to-end when a vMCP
// does not configure its own (spec §5).
const DefaultRequestDeadline = 120 * time.Second

// DefaultTemplateMaxDepth bounds nested @tool/@resource/@prompt
// evaluation within one request when a vMCP does not override it.
const DefaultTemplateMaxDepth = 8

// UsageRecorder logs one completed inbound call, append-only (spec §6's
// usage_log). The Adapter calls Record synchronously, so its duration adds
// to the request's latency.
type UsageRecorder interface {
	Record(entry UsageEntry)
}

// UsageEntry is one usage_log row.
type UsageEntry struct {
	VMCPID     string
	Method     string
	ToolName   string
	ServerName string
	StartedAt  time.Time
	DurationMS int64
	Outcome    string
}

// mount bundles one vMCP's composer with the request-scoping knobs the
// adapter needs to build an Invocation Context for it.
type mount struct {
	vmcpID       string
	composer     *composer.Composer
	deadline     time.Duration
	templateMax  int
	envOverrides func() map[string]string
}

// Adapter terminates the MCP wire protocol for every mounted vMCP.
type Adapter struct {
	mounts map[string]*mount
	usage  UsageRecorder
}

// New builds an empty Adapter. usage may be nil to disable usage logging.
func New(usage UsageRecorder) *Adapter {
	return &Adapter{mounts: make(map[string]*mount), usage: usage}
}

// Mount registers name (the `{vmcp_name}` URL path segment) against comp.
// deadline and templateMax of zero fall back to the package defaults.
func (a *Adapter) Mount(name string, vmcpID string, comp *composer.Composer, deadline time.Duration, templateMax int) {
	if deadline <= 0 {
		deadline = DefaultRequestDeadline
	}
	if templateMax <= 0 {
		templateMax = DefaultTemplateMaxDepth
	}
	a.mounts[name] = &mount{
		vmcpID:      vmcpID,
		composer:    comp,
		deadline:    deadline,
		templateMax: templateMax,
	}
}

// Unmount removes a previously mounted vMCP, e.g. on deletion.
func (a *Adapter) Unmount(name string) { delete(a.mounts, name) }

// Router builds the chi router serving every mounted vMCP's JSON-RPC
// endpoint at `/private/{vmcp_name}/vmcp`.
func (a *Adapter) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Post("/private/{vmcp_name}/vmcp", a.handleRPC)
	return r
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (a *Adapter) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "vmcp_name")
	m, ok := a.mounts[name]
	if !ok {
		writeEnvelope(w, nil, nil, &rpcError{Code: vmcperrors.CodeMethodNotFound, Message: "no such vmcp"})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, nil, nil, &rpcError{Code: vmcperrors.CodeInvalidParams, Message: "malformed JSON-RPC request"})
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), m.deadline)
	defer cancel()

	ctx, span := tracer.Start(ctx, "vmcp.rpc/"+req.Method, trace.WithAttributes(
		attribute.String("vmcp.name", name),
		attribute.String("rpc.method", req.Method),
	))
	defer span.End()

	env := map[string]string{}
	if m.envOverrides != nil {
		env = m.envOverrides()
	}
	ic := vmcp.NewInvocationContext(ctx, m.vmcpID, env, m.templateMax)

	var params map[string]any
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	ic.RequestArgs = params

	result, rpcErr := a.dispatch(ic, m, req.Method, params)
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
	}
	if a.usage != nil {
		a.usage.Record(UsageEntry{
			VMCPID:     m.vmcpID,
			Method:     req.Method,
			ToolName:   toolNameFromParams(params),
			StartedAt:  start,
			DurationMS: time.Since(start).Milliseconds(),
			Outcome:    outcomeFor(rpcErr),
		})
	}

	writeEnvelope(w, req.ID, result, rpcErr)
}

func toolNameFromParams(params map[string]any) string {
	if params == nil {
		return ""
	}
	name, _ := params["name"].(string)
	return name
}

func outcomeFor(err *rpcError) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

func writeEnvelope(w http.ResponseWriter, id json.RawMessage, result any, rpcErr *rpcError) {
	if id == nil {
		id = json.RawMessage(`null`)
	}
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("adapter: encoding JSON-RPC response: %v", err)
	}
}
