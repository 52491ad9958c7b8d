// Package cache implements the Capability Cache: a per-upstream holder of
// the most recent Capability Snapshot, read lock-free and written under a
// short-held lock via pointer swap (spec §4.3, §5).
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
)

// discoverFunc performs a full capability discovery against one upstream.
type discoverFunc func() (*vmcp.CapabilitySnapshot, error)

// perUpstream holds one upstream's snapshot pointer plus the discovery
// function the Cache will call to (re)populate it.
type perUpstream struct {
	snapshot atomic.Pointer[vmcp.CapabilitySnapshot]
	discover discoverFunc

	// once guards the "synchronous discovery on first access"
	// policy without holding the Cache-wide lock.
	once sync.Once
}

// Cache holds one Capability Snapshot per upstream server id.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*perUpstream
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*perUpstream)}
}

// Bind associates an upstream id with the discovery function the cache
// should call to populate or refresh its snapshot. Re-binding an id resets
// its "first access" behavior.
func (c *Cache) Bind(id string, discover discoverFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = &perUpstream{discover: discover}
}

func (c *Cache) entry(id string) (*perUpstream, bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	return e, ok
}

// Get returns the current snapshot for id, performing a synchronous
// discovery on first access. A snapshot read is a lock-free pointer load.
func (c *Cache) Get(id string) (*vmcp.CapabilitySnapshot, error) {
	e, ok := c.entry(id)
	if !ok {
		return nil, unboundError(id)
	}

	var discoverErr error
	e.once.Do(func() {
		snap, err := e.discover()
		if err != nil {
			discoverErr = err
			return
		}
		e.snapshot.Store(snap)
	})
	if discoverErr != nil {
		return nil, discoverErr
	}

	snap := e.snapshot.Load()
	if snap == nil {
		// The first discovery, run by another caller inside once.Do,
		// failed without storing a snapshot, and sync.Once does not run
		// it again; surface an empty, stale snapshot rather than nil.
		return &vmcp.CapabilitySnapshot{Stale: true}, nil
	}
	return snap, nil
}

// Refresh performs an explicit discovery and atomically replaces the
// snapshot (spec §4.3: "on explicit refresh(server_id), discover and
// atomically replace").
func (c *Cache) Refresh(id string) (*vmcp.CapabilitySnapshot, error) {
	e, ok := c.entry(id)
	if !ok {
		return nil, unboundError(id)
	}

	snap, err := e.discover()
	if err != nil {
		return nil, err
	}
	e.snapshot.Store(snap)
	return snap, nil
}

// Clear drops the snapshot for id, per spec §4.3's clear_cache operation.
// The next Get will synchronously re-discover.
func (c *Cache) Clear(id string) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		// Replace with a fresh perUpstream so the "discover on first
		// access" sync.Once fires again.
		c.entries[id] = &perUpstream{discover: e.discover}
	}
	c.mu.Unlock()
}

// Unbind removes an upstream entirely, e.g. on server removal or session
// disconnect.
func (c *Cache) Unbind(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

type unboundErr struct{ id string }

func (e *unboundErr) Error() string { return "capability cache: no entry bound for upstream " + e.id }

func unboundError(id string) error { return &unboundErr{id: id} }
