// Package registry implements the Upstream Registry: a thread-safe pool of
// Upstream Sessions keyed by server id, with lifecycle management and
// per-upstream outbound concurrency limiting (spec §4.2, §5).
package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/oss-vmcp/vmcp/pkg/logger"
	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/session"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// DefaultMaxUpstreamConcurrency is the default per-upstream outbound call
// cap (spec §5, *K*=16).
const DefaultMaxUpstreamConcurrency = 16

// DefaultQueueBound is the default burst size of each upstream's rate
// limiter, which refills at maxConcurrency tokens per second; Acquire
// returns UpstreamSaturated when the limiter has no token left.
const DefaultQueueBound = 64

// entry bundles a session with its per-upstream concurrency gate.
type entry struct {
	session *session.Session
	gate    *semaphore.Weighted
	limiter *rate.Limiter
}

// Registry maps server id to Upstream Session. Structural changes
// (register/close/remove) are guarded by a short-held mutex; reads copy a
// pointer to the session so callers never block each other.
type Registry struct {
	mu                sync.Mutex
	entries           map[string]*entry
	servers           map[string]vmcp.UpstreamServer
	httpClient        *http.Client
	maxConcurrency    int64
	queueBound        int64
}

// New builds an empty Registry.
func New(maxConcurrency, queueBound int) *Registry {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxUpstreamConcurrency
	}
	if queueBound <= 0 {
		queueBound = DefaultQueueBound
	}
	return &Registry{
		entries:        make(map[string]*entry),
		servers:        make(map[string]vmcp.UpstreamServer),
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		maxConcurrency: int64(maxConcurrency),
		queueBound:     int64(queueBound),
	}
}

// Register adds or updates an upstream server's configuration without
// opening a session for it (sessions are opened lazily by GetOrOpen).
func (r *Registry) Register(server vmcp.UpstreamServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[server.ID] = server
}

// GetOrOpen returns the session for id, opening (and connecting) it if it
// does not already exist. Opening an already-open session is idempotent.
func (r *Registry) GetOrOpen(ctx context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		server, known := r.servers[id]
		if !known {
			r.mu.Unlock()
			return nil, vmcperrors.Newf(vmcperrors.UpstreamUnavailable, nil, "unknown upstream server %q", id)
		}
		sess := session.New(server, r.httpClient)
		e = &entry{
			session: sess,
			gate:    semaphore.NewWeighted(r.maxConcurrency),
			limiter: rate.NewLimiter(rate.Limit(r.maxConcurrency), int(r.queueBound)),
		}
		r.entries[id] = e
	}
	r.mu.Unlock()

	if e.session.Status() != vmcp.StatusConnected {
		if err := r.connectWithBackoff(ctx, e.session); err != nil {
			return nil, err
		}
	}
	return e.session, nil
}

// connectWithBackoff retries transient connect failures with exponential
// backoff, bounded by the caller's context deadline. Auth challenges are
// not retried: they are surfaced immediately so the caller can complete
// the authorization-code flow.
func (r *Registry) connectWithBackoff(ctx context.Context, sess *session.Session) error {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 100 * time.Millisecond
	boff.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		connErr := sess.Connect(ctx)
		if connErr == nil {
			return struct{}{}, nil
		}
		if verr, ok := vmcperrors.As(connErr); ok && verr.Kind == vmcperrors.AuthRequired {
			return struct{}{}, backoff.Permanent(connErr)
		}
		return struct{}{}, connErr
	}, backoff.WithBackOff(boff), backoff.WithMaxTries(3))

	return err
}

// Acquire takes one token from the upstream's rate limiter, returning
// UpstreamSaturated at once if none is left, and then blocks until a
// concurrency slot is free or ctx ends. The number of callers waiting for
// a slot is not bounded.
func (r *Registry) Acquire(ctx context.Context, id string) (release func(), err error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, vmcperrors.Newf(vmcperrors.UpstreamUnavailable, nil, "unknown upstream server %q", id)
	}

	if !e.limiter.Allow() {
		return nil, vmcperrors.Newf(vmcperrors.UpstreamSaturated, nil, "upstream %q has exceeded its concurrency queue bound", id)
	}

	if err := e.gate.Acquire(ctx, 1); err != nil {
		return nil, vmcperrors.Newf(vmcperrors.UpstreamSaturated, err, "timed out waiting for a concurrency slot on upstream %q", id)
	}
	return func() { e.gate.Release(1) }, nil
}

// Close disconnects and removes the session for id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return e.session.Disconnect()
}

// CloseAll disconnects every open session, e.g. on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		if err := e.session.Disconnect(); err != nil {
			logger.Warnf("error disconnecting upstream %q: %v", e.session.ServerName(), err)
		}
	}
}

// StatusOf returns the current status of the session for id, or
// StatusIdle if no session is currently open for id (never opened, or
// closed since).
func (r *Registry) StatusOf(id string) vmcp.SessionStatus {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return vmcp.StatusIdle
	}
	return e.session.Status()
}

// ForEach calls fn for every currently-known upstream server id, in
// unspecified order.
func (r *Registry) ForEach(fn func(id string, server vmcp.UpstreamServer)) {
	r.mu.Lock()
	servers := make(map[string]vmcp.UpstreamServer, len(r.servers))
	for k, v := range r.servers {
		servers[k] = v
	}
	r.mu.Unlock()

	for id, server := range servers {
		fn(id, server)
	}
}

// Remove forgets a server entirely. Callers must Close(id) first; Remove
// refuses otherwise to avoid leaking an open session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, open := r.entries[id]; open {
		return fmt.Errorf("upstream %q must be closed before removal", id)
	}
	delete(r.servers, id)
	return nil
}
