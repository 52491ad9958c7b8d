// Package composer implements the vMCP Composer: aggregation of upstream
// and custom capabilities into one exposed capability set, with
// deterministic name-collision resolution and dispatch of tools/list,
// resources/list, prompts/list, tools/call, resources/read, and
// prompts/get calls to their owning origin (spec §4.6, §8).
package composer

import (
	"io"
	"sync"

	"dario.cat/mergo"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/blobstore"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/cache"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/registry"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/tools"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// BlobReader is the subset of blobstore.Store the Composer needs to
// resolve blob-backed custom resources. Tests can supply a fake.
type BlobReader interface {
	Get(id string) (io.ReadCloser, blobstore.Metadata, error)
}

// origin identifies where an exposed capability came from: either an
// upstream server id, or "" for a vMCP-owned custom capability.
type origin = string

const customOrigin origin = ""

// reverseEntry maps one exposed name back to its owning origin and the
// name to use when calling that origin.
type reverseEntry struct {
	Origin    origin
	LocalName string
}

// Composer aggregates one VMCP's upstream and custom capabilities.
type Composer struct {
	def     vmcp.VMCP
	reg     *registry.Registry
	snaps   *cache.Cache
	engines tools.Engines
	baseEnv map[string]string
	blobs   BlobReader

	mu            sync.RWMutex
	toolReverse   map[string]reverseEntry
	promptReverse map[string]reverseEntry
	toolSchemas   map[string]vmcp.Schema
	customToolsByName   map[string]vmcp.CustomTool
	customPromptsByName map[string]vmcp.CustomPrompt
	customResourcesByURI map[string]vmcp.CustomResource
	resourceOriginByURI  map[string]origin
}

// New builds a Composer for def. reg supplies upstream sessions, snaps
// supplies per-upstream capability snapshots (already bound to discovery
// functions by the caller), engines runs custom tool bodies, and baseEnv
// is the vMCP's resolved default environment (spec §4.6's env binding).
func New(def vmcp.VMCP, reg *registry.Registry, snaps *cache.Cache, engines tools.Engines, baseEnv map[string]string) *Composer {
	c := &Composer{
		def:                  def,
		reg:                  reg,
		snaps:                snaps,
		engines:              engines,
		baseEnv:              baseEnv,
		customToolsByName:    make(map[string]vmcp.CustomTool, len(def.Tools)),
		customPromptsByName:  make(map[string]vmcp.CustomPrompt, len(def.Prompts)),
		customResourcesByURI: make(map[string]vmcp.CustomResource, len(def.Resources)),
	}
	for _, t := range def.Tools {
		c.customToolsByName[t.Name] = t
	}
	for _, p := range def.Prompts {
		c.customPromptsByName[p.Name] = p
	}
	for _, r := range def.Resources {
		c.customResourcesByURI[r.URI] = r
	}
	return c
}

// SetBlobStore attaches the blob store used to resolve blob-backed custom
// resources. A Composer with no blob store attached fails blob-backed
// resource reads with an Internal error.
func (c *Composer) SetBlobStore(store BlobReader) {
	c.blobs = store
}

// candidate is one capability before collision resolution: its bare
// (pre-suffix) name, the origin it came from, and the name to call it by
// at that origin.
type candidate struct {
	origin    origin
	localName string
	bareName  string
}

// resolveNames applies spec §4.6/§8's collision policy to a set of
// candidates sharing one namespace (tools or prompts): a custom
// capability always keeps its bare name; otherwise the first occurrence
// (in the vMCP's declared upstream order, which callers preserve when
// building candidates) keeps the bare name and every subsequent colliding
// candidate is suffixed `name@server_name`.
func (c *Composer) resolveNames(candidates []candidate) map[string]reverseEntry {
	byBare := make(map[string][]candidate)
	for _, cd := range candidates {
		byBare[cd.bareName] = append(byBare[cd.bareName], cd)
	}

	out := make(map[string]reverseEntry, len(candidates))
	for bare, group := range byBare {
		if len(group) == 1 {
			out[bare] = reverseEntry{Origin: group[0].origin, LocalName: group[0].localName}
			continue
		}

		winnerIdx := 0
		for i, cd := range group {
			if cd.origin == customOrigin {
				winnerIdx = i
				break
			}
		}
		for i, cd := range group {
			if i == winnerIdx {
				out[bare] = reverseEntry{Origin: cd.origin, LocalName: cd.localName}
				continue
			}
			exposed := cd.bareName + "@" + c.serverName(cd.origin)
			out[exposed] = reverseEntry{Origin: cd.origin, LocalName: cd.localName}
		}
	}
	return out
}

func (c *Composer) serverName(serverID string) string {
	name := serverID
	c.reg.ForEach(func(id string, server vmcp.UpstreamServer) {
		if id == serverID {
			name = server.Name
		}
	})
	return name
}

// ListTools returns the aggregated, collision-resolved tool set and caches
// the exposed-name -> origin reverse map for subsequent CallTool dispatch.
func (c *Composer) ListTools(ic *vmcp.InvocationContext) ([]vmcp.ToolDescriptor, error) {
	var candidates []candidate
	descriptorsByKey := make(map[string]vmcp.ToolDescriptor)

	for _, ref := range c.def.Upstreams {
		snap, err := c.snaps.Get(ref.ServerID)
		if err != nil {
			continue
		}
		for _, t := range snap.Tools {
			key := ref.ServerID + "\x00" + t.Name
			candidates = append(candidates, candidate{origin: ref.ServerID, localName: t.Name, bareName: t.Name})
			descriptorsByKey[key] = t
		}
	}
	for _, t := range c.def.Tools {
		key := customOrigin + "\x00" + t.Name
		candidates = append(candidates, candidate{origin: customOrigin, localName: t.Name, bareName: t.Name})
		descriptorsByKey[key] = tools.Describe(t)
	}

	resolved := c.resolveNames(candidates)

	schemas := make(map[string]vmcp.Schema, len(descriptorsByKey))
	for key, d := range descriptorsByKey {
		if d.InputSchema != nil {
			schemas[key] = d.InputSchema
		}
	}

	c.mu.Lock()
	c.toolReverse = resolved
	c.toolSchemas = schemas
	c.mu.Unlock()

	out := make([]vmcp.ToolDescriptor, 0, len(resolved))
	for exposed, entry := range resolved {
		key := entry.Origin + "\x00" + entry.LocalName
		d := descriptorsByKey[key]
		d.Name = exposed
		out = append(out, d)
	}
	return out, nil
}

// ListPrompts returns the aggregated, collision-resolved prompt set.
func (c *Composer) ListPrompts(ic *vmcp.InvocationContext) ([]vmcp.PromptDescriptor, error) {
	var candidates []candidate
	descriptorsByKey := make(map[string]vmcp.PromptDescriptor)

	for _, ref := range c.def.Upstreams {
		snap, err := c.snaps.Get(ref.ServerID)
		if err != nil {
			continue
		}
		for _, p := range snap.Prompts {
			key := ref.ServerID + "\x00" + p.Name
			candidates = append(candidates, candidate{origin: ref.ServerID, localName: p.Name, bareName: p.Name})
			descriptorsByKey[key] = p
		}
	}
	for _, p := range c.def.Prompts {
		key := customOrigin + "\x00" + p.Name
		candidates = append(candidates, candidate{origin: customOrigin, localName: p.Name, bareName: p.Name})
		descriptorsByKey[key] = vmcp.PromptDescriptor{Name: p.Name, Description: p.Description, InputSchema: p.InputSchema}
	}

	resolved := c.resolveNames(candidates)

	c.mu.Lock()
	c.promptReverse = resolved
	c.mu.Unlock()

	out := make([]vmcp.PromptDescriptor, 0, len(resolved))
	for exposed, entry := range resolved {
		key := entry.Origin + "\x00" + entry.LocalName
		d := descriptorsByKey[key]
		d.Name = exposed
		out = append(out, d)
	}
	return out, nil
}

// ListResources returns every static resource across upstreams and custom
// definitions. Resources are identified by URI and no collision suffixing
// applies: a URI already listed by an earlier upstream is skipped, while
// custom resources are appended after the upstream ones even when their
// URI repeats one of them.
func (c *Composer) ListResources(ic *vmcp.InvocationContext) ([]vmcp.ResourceDescriptor, error) {
	originByURI := make(map[string]origin)
	var out []vmcp.ResourceDescriptor

	for _, ref := range c.def.Upstreams {
		snap, err := c.snaps.Get(ref.ServerID)
		if err != nil {
			continue
		}
		for _, r := range snap.Resources {
			if _, exists := originByURI[r.URI]; exists {
				continue
			}
			originByURI[r.URI] = ref.ServerID
			out = append(out, r)
		}
	}
	for _, r := range c.def.Resources {
		originByURI[r.URI] = customOrigin
		out = append(out, vmcp.ResourceDescriptor{URI: r.URI, Name: r.Name, MIMEType: r.MIMEType})
	}

	c.mu.Lock()
	c.resourceOriginByURI = originByURI
	c.mu.Unlock()

	return out, nil
}

// ListResourceTemplates returns every upstream resource template; vMCPs do
// not define custom resource templates.
func (c *Composer) ListResourceTemplates(ic *vmcp.InvocationContext) ([]vmcp.ResourceTemplateDescriptor, error) {
	var out []vmcp.ResourceTemplateDescriptor
	for _, ref := range c.def.Upstreams {
		snap, err := c.snaps.Get(ref.ServerID)
		if err != nil {
			continue
		}
		out = append(out, snap.ResourceTemplates...)
	}
	return out, nil
}

// BindEnv merges the vMCP's default environment with per-request
// overrides (spec §4.6) using a last-value-wins deep merge, and freezes
// the result for use by a new Invocation Context.
func (c *Composer) BindEnv(overrides map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(c.baseEnv))
	for k, v := range c.baseEnv {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, overrides, mergo.WithOverride()); err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "merging environment overrides")
	}
	return merged, nil
}

// SystemPrompt renders the vMCP's system prompt, if any, returning an
// empty string when unset.
func (c *Composer) SystemPrompt(ic *vmcp.InvocationContext) (string, error) {
	if c.def.SystemPrompt == "" {
		return "", nil
	}
	return tools.RenderPromptBody(ic, c.def.SystemPrompt, ic.RequestArgs, c)
}
