package app

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/adapter"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/blobstore"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/cache"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/composer"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/config"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/registry"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/template"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/tools"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/usagelog"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// hostBox indirects template.Host for a custom tool's HTTP/Prompt engine:
// those engines are constructed before the Composer that will own them
// exists, so they're handed a box whose target is filled in once the
// Composer is built.
type hostBox struct {
	mu sync.RWMutex
	h  template.Host
}

func (b *hostBox) bind(h template.Host) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.h = h
}

func (b *hostBox) Config(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.h.Config(name)
}

func (b *hostBox) CallTool(ic *vmcp.InvocationContext, name string, args map[string]any) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.h.CallTool(ic, name, args)
}

func (b *hostBox) ReadResource(ic *vmcp.InvocationContext, uri string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.h.ReadResource(ic, uri)
}

func (b *hostBox) ResolveResourceAlias(alias string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.h.ResolveResourceAlias(alias)
}

func (b *hostBox) GetPrompt(ic *vmcp.InvocationContext, name string, args map[string]any) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.h.GetPrompt(ic, name, args)
}

var _ template.Host = (*hostBox)(nil)

// vmcpServer bundles the wired-up process: one Adapter mounting every
// configured vMCP, the Upstream Registry backing all of them, and the
// supporting stores. Close disconnects every upstream session and closes
// the usage log; the blob store holds no open handle.
type vmcpServer struct {
	Adapter  *adapter.Adapter
	Registry *registry.Registry
	Usage    *usagelog.Store
	Blobs    *blobstore.Store
}

func (s *vmcpServer) Close() {
	s.Registry.CloseAll()
	if s.Usage != nil {
		_ = s.Usage.Close()
	}
}

// buildServer wires one Adapter from a loaded Config and its Definitions:
// it opens the usage log and blob store, builds the shared Upstream
// Registry and script engine, and mounts one Composer per vMCP
// definition with its own HTTP/Prompt engines bound to that vMCP's own
// capabilities (so `@tool`/`@resource`/`@prompt` expressions in a custom
// tool body re-enter the right vMCP).
func buildServer(cfg config.Config, defs []config.Definition) (*vmcpServer, error) {
	usage, err := usagelog.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.Open(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		_ = usage.Close()
		return nil, err
	}

	reg := registry.New(cfg.MaxUpstreamConcurrency, registry.DefaultQueueBound)
	scriptEngine := tools.NewScriptEngine("python3", int64(cfg.MaxConcurrentScripts))

	a := adapter.New(usage)

	for _, def := range defs {
		for _, server := range def.Servers {
			if !server.Enabled {
				continue
			}
			reg.Register(server)
		}

		baseEnv, err := config.ResolveEnv(def.VMCP.Env)
		if err != nil {
			return nil, vmcperrors.Newf(vmcperrors.Internal, err, "resolving environment for vmcp %q", def.VMCP.Name)
		}

		box := &hostBox{}
		engines := tools.Engines{
			Script: scriptEngine,
			HTTP:   tools.NewHTTPEngine(box),
			Prompt: tools.NewPromptEngine(box),
		}

		snaps := cache.New()
		for _, ref := range def.VMCP.Upstreams {
			serverID := ref.ServerID
			snaps.Bind(serverID, func() (*vmcp.CapabilitySnapshot, error) {
				return discoverUpstream(reg, serverID)
			})
		}
		comp := composer.New(def.VMCP, reg, snaps, engines, baseEnv)
		comp.SetBlobStore(blobs)
		box.bind(comp)

		deadline := def.VMCP.RequestDeadline
		if deadline <= 0 {
			deadline = cfg.RequestDeadline()
		}
		a.Mount(def.VMCP.Name, def.VMCP.ID, comp, deadline, cfg.TemplateMaxDepth)
	}

	return &vmcpServer{Adapter: a, Registry: reg, Usage: usage, Blobs: blobs}, nil
}

// discoverUpstream opens (or reuses) serverID's session and runs a full
// capability discovery against it, bounded by the registry's own
// concurrency gate.
func discoverUpstream(reg *registry.Registry, serverID string) (*vmcp.CapabilitySnapshot, error) {
	ctx := context.Background()
	sess, err := reg.GetOrOpen(ctx, serverID)
	if err != nil {
		return nil, err
	}
	release, err := reg.Acquire(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer release()

	ic := vmcp.NewInvocationContext(ctx, "", nil, 1)
	return sess.DiscoverAll(ic)
}
