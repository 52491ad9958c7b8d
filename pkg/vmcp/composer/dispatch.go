package composer

import (
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/template"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/tools"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

var _ template.Host = (*Composer)(nil)

// DispatchTool invokes exposedName (a name as returned by ListTools)
// against its origin: the matching custom tool engine, or the owning
// upstream through the Upstream Registry's concurrency gate. It returns
// the MCP-shaped result (a bare value or content-part slice) without
// rendering it to text; CallTool renders it for template substitution.
func (c *Composer) DispatchTool(ic *vmcp.InvocationContext, exposedName string, args map[string]any) (any, error) {
	entry, ok := c.toolReverseEntry(ic, exposedName)
	if !ok {
		return nil, vmcperrors.Newf(vmcperrors.UnknownTool, nil, "no tool named %q", exposedName)
	}

	if schema, ok := c.toolSchema(entry); ok {
		if err := validateRequiredArgs(schema, args); err != nil {
			return nil, err
		}
	}

	if entry.Origin == customOrigin {
		tool, ok := c.customToolsByName[entry.LocalName]
		if !ok {
			return nil, vmcperrors.Newf(vmcperrors.UnknownTool, nil, "custom tool %q is no longer defined", entry.LocalName)
		}
		engine, ok := c.engines.For(tool.Kind)
		if !ok {
			return nil, vmcperrors.Newf(vmcperrors.Internal, nil, "no engine registered for custom tool kind %q", tool.Kind)
		}
		return engine.Execute(ic, tool, args)
	}

	sess, err := c.reg.GetOrOpen(ic.Context(), entry.Origin)
	if err != nil {
		return nil, err
	}
	release, err := c.reg.Acquire(ic.Context(), entry.Origin)
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := sess.CallTool(ic, entry.LocalName, args)
	if err != nil {
		return nil, err
	}
	return decodeMCPResult(raw)
}

// CallTool satisfies template.Host: it dispatches exposedName and renders
// the result to a string per render.go's conventions.
func (c *Composer) CallTool(ic *vmcp.InvocationContext, exposedName string, args map[string]any) (string, error) {
	result, err := c.DispatchTool(ic, exposedName, args)
	if err != nil {
		return "", err
	}
	return template.RenderToolResult(result), nil
}

// DispatchResource reads uri from its owning custom definition or upstream.
func (c *Composer) DispatchResource(ic *vmcp.InvocationContext, uri string) (any, error) {
	if res, ok := c.customResourcesByURI[uri]; ok {
		if res.Bytes != nil {
			return string(res.Bytes), nil
		}
		return c.readBlobResource(res)
	}

	c.mu.RLock()
	originID, known := c.resourceOriginByURI[uri]
	c.mu.RUnlock()
	if !known {
		return nil, vmcperrors.Newf(vmcperrors.UnknownResource, nil, "no resource at %q", uri)
	}

	sess, err := c.reg.GetOrOpen(ic.Context(), originID)
	if err != nil {
		return nil, err
	}
	release, err := c.reg.Acquire(ic.Context(), originID)
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := sess.ReadResource(ic, uri)
	if err != nil {
		return nil, err
	}
	return decodeMCPResult(raw)
}

// readBlobResource resolves a blob-backed CustomResource's bytes through
// the attached blob store.
func (c *Composer) readBlobResource(res vmcp.CustomResource) (any, error) {
	if c.blobs == nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, nil, "resource %q is blob-backed but no blob store is attached", res.URI)
	}
	r, _, err := c.blobs.Get(res.BlobID)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "reading blob %q for resource %q", res.BlobID, res.URI)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "reading blob %q for resource %q", res.BlobID, res.URI)
	}
	return string(data), nil
}

// ReadResource satisfies template.Host.
func (c *Composer) ReadResource(ic *vmcp.InvocationContext, uri string) (string, error) {
	result, err := c.DispatchResource(ic, uri)
	if err != nil {
		return "", err
	}
	return template.RenderToolResult(result), nil
}

// ResolveResourceAlias looks a vMCP-defined custom resource up by its
// friendly Name, used by `@resource.alias` expressions.
func (c *Composer) ResolveResourceAlias(alias string) (string, bool) {
	for _, r := range c.def.Resources {
		if r.Name == alias {
			return r.URI, true
		}
	}
	return "", false
}

// DispatchPrompt renders exposedName's prompt body (custom) or forwards to
// the owning upstream's prompts/get.
func (c *Composer) DispatchPrompt(ic *vmcp.InvocationContext, exposedName string, args map[string]any) (any, error) {
	c.mu.RLock()
	entry, ok := c.promptReverse[exposedName]
	c.mu.RUnlock()
	if !ok {
		return nil, vmcperrors.Newf(vmcperrors.UnknownPrompt, nil, "no prompt named %q", exposedName)
	}

	if entry.Origin == customOrigin {
		prompt, ok := c.customPromptsByName[entry.LocalName]
		if !ok {
			return nil, vmcperrors.Newf(vmcperrors.UnknownPrompt, nil, "custom prompt %q is no longer defined", entry.LocalName)
		}
		text, err := tools.RenderPromptBody(ic, prompt.Body, args, c)
		if err != nil {
			return nil, err
		}
		return []any{map[string]any{"type": "text", "text": text}}, nil
	}

	sess, err := c.reg.GetOrOpen(ic.Context(), entry.Origin)
	if err != nil {
		return nil, err
	}
	release, err := c.reg.Acquire(ic.Context(), entry.Origin)
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := sess.GetPrompt(ic, entry.LocalName, args)
	if err != nil {
		return nil, err
	}
	return decodeMCPResult(raw)
}

// GetPrompt satisfies template.Host.
func (c *Composer) GetPrompt(ic *vmcp.InvocationContext, exposedName string, args map[string]any) (string, error) {
	result, err := c.DispatchPrompt(ic, exposedName, args)
	if err != nil {
		return "", err
	}
	return template.RenderToolResult(result), nil
}

// Config satisfies template.Host, resolving `@config.NAME` against the
// vMCP's own default environment binding (spec §4.6). Unlike `@param`,
// config values are not per-request and so are not looked up through the
// Invocation Context.
func (c *Composer) Config(name string) (string, bool) {
	v, ok := c.baseEnv[name]
	return v, ok
}

// toolSchema returns entry's declared input schema, if any. Custom tools
// carry their schema inline; upstream tools' schemas were cached by the
// last ListTools call.
func (c *Composer) toolSchema(entry reverseEntry) (vmcp.Schema, bool) {
	if entry.Origin == customOrigin {
		tool, ok := c.customToolsByName[entry.LocalName]
		if !ok || tool.InputSchema == nil {
			return nil, false
		}
		return tool.InputSchema, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.toolSchemas[entry.Origin+"\x00"+entry.LocalName]
	return schema, ok
}

// validateRequiredArgs enforces spec §4.6's input-schema rule: a call
// missing one of the schema's required fields is rejected with
// BadArguments before it reaches any engine or upstream session. Fields
// not named by the schema pass through untouched.
func validateRequiredArgs(schema vmcp.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	schemaLoader := gojsonschema.NewGoLoader(map[string]any(schema))
	docLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		// A malformed schema can't be enforced; let the call through rather
		// than failing every request for an upstream's bad metadata.
		return nil
	}
	if result.Valid() {
		return nil
	}

	for _, re := range result.Errors() {
		if re.Type() == "required" {
			missing, _ := re.Details()["property"].(string)
			if missing == "" {
				missing = re.Field()
			}
			return vmcperrors.Newf(vmcperrors.BadArguments, nil, "missing required field %q", missing)
		}
	}
	return nil
}

func (c *Composer) toolReverseEntry(ic *vmcp.InvocationContext, exposedName string) (reverseEntry, bool) {
	c.mu.RLock()
	entry, ok := c.toolReverse[exposedName]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}
	if _, err := c.ListTools(ic); err != nil {
		return reverseEntry{}, false
	}
	c.mu.RLock()
	entry, ok = c.toolReverse[exposedName]
	c.mu.RUnlock()
	return entry, ok
}

// decodeMCPResult picks apart a raw MCP result envelope with gjson,
// returning its `content` array when present (the common tools/call and
// prompts/get shape) or its `contents` array (resources/read's shape);
// anything else falls back to decoding the whole payload.
func decodeMCPResult(raw json.RawMessage) (any, error) {
	for _, field := range []string{"content", "contents"} {
		result := gjson.GetBytes(raw, field)
		if !result.Exists() || !result.IsArray() {
			continue
		}
		parts, ok := result.Value().([]any)
		if ok {
			return parts, nil
		}
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, vmcperrors.Newf(vmcperrors.UpstreamProtocol, err, "malformed MCP result payload")
	}
	return v, nil
}
