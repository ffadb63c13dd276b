package mcpservice

import (
	"context"
	"fmt"

	"github.com/yosida95/uritemplate/v3"

	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/sessions"
)

// ToolsRegistry is the static name → handler mapping built at startup.
// It is immutable after construction, so reads need no locking.
type ToolsRegistry struct {
	tools    []mcp.Tool
	handlers map[string]ToolHandler
}

// NewToolsRegistry builds a registry from a fixed list of definitions.
// Duplicate tool names are a construction error; callers treat that as
// fatal at startup.
func NewToolsRegistry(defs ...StaticTool) (*ToolsRegistry, error) {
	r := &ToolsRegistry{
		tools:    make([]mcp.Tool, 0, len(defs)),
		handlers: make(map[string]ToolHandler, len(defs)),
	}
	for _, d := range defs {
		name := d.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := r.handlers[name]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", name)
		}
		r.tools = append(r.tools, d.Descriptor)
		r.handlers[name] = d.Handler
	}
	return r, nil
}

// List returns the tool descriptors in registration order.
func (r *ToolsRegistry) List() []mcp.Tool {
	out := make([]mcp.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Call dispatches a request to the named tool. Unregistered names return
// ErrUnknownTool without invoking any handler.
func (r *ToolsRegistry) Call(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrUnknownTool)
	}
	h, ok := r.handlers[req.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Name)
	}
	return h(ctx, session, req)
}

// ResourceProvider returns the current contents for a fixed resource URI.
type ResourceProvider func(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error)

// TemplateProvider returns contents for a templated URI; vars carries the
// values matched out of the URI template.
type TemplateProvider func(ctx context.Context, session *sessions.Session, uri string, vars uritemplate.Values) ([]mcp.ResourceContents, error)

// StaticResource pairs a resource descriptor with its provider.
type StaticResource struct {
	Descriptor mcp.Resource
	Provider   ResourceProvider
}

// StaticResourceTemplate pairs a resource template descriptor with a
// provider invoked for URIs matching the template.
type StaticResourceTemplate struct {
	Descriptor mcp.ResourceTemplate
	Provider   TemplateProvider
}

type compiledTemplate struct {
	descriptor mcp.ResourceTemplate
	tmpl       *uritemplate.Template
	provider   TemplateProvider
}

// ResourcesRegistry is the static URI → provider mapping built at startup.
// Exact URIs are matched first, then templates in registration order.
type ResourcesRegistry struct {
	resources []mcp.Resource
	providers map[string]ResourceProvider
	templates []compiledTemplate
}

// NewResourcesRegistry builds a registry from fixed resource and template
// definitions. Duplicate URIs and unparseable templates are construction
// errors.
func NewResourcesRegistry(resources []StaticResource, templates []StaticResourceTemplate) (*ResourcesRegistry, error) {
	r := &ResourcesRegistry{
		resources: make([]mcp.Resource, 0, len(resources)),
		providers: make(map[string]ResourceProvider, len(resources)),
	}
	for _, res := range resources {
		uri := res.Descriptor.URI
		if uri == "" {
			return nil, fmt.Errorf("resource with empty URI")
		}
		if _, exists := r.providers[uri]; exists {
			return nil, fmt.Errorf("duplicate resource URI %q", uri)
		}
		if res.Provider == nil {
			return nil, fmt.Errorf("resource %q has no provider", uri)
		}
		r.resources = append(r.resources, res.Descriptor)
		r.providers[uri] = res.Provider
	}
	seen := make(map[string]bool, len(templates))
	for _, tpl := range templates {
		raw := tpl.Descriptor.URITemplate
		if raw == "" {
			return nil, fmt.Errorf("resource template with empty URI template")
		}
		if seen[raw] {
			return nil, fmt.Errorf("duplicate resource template %q", raw)
		}
		seen[raw] = true
		if tpl.Provider == nil {
			return nil, fmt.Errorf("resource template %q has no provider", raw)
		}
		compiled, err := uritemplate.New(raw)
		if err != nil {
			return nil, fmt.Errorf("resource template %q: %w", raw, err)
		}
		r.templates = append(r.templates, compiledTemplate{
			descriptor: tpl.Descriptor,
			tmpl:       compiled,
			provider:   tpl.Provider,
		})
	}
	return r, nil
}

// List returns the resource descriptors in registration order.
func (r *ResourcesRegistry) List() []mcp.Resource {
	out := make([]mcp.Resource, len(r.resources))
	copy(out, r.resources)
	return out
}

// ListTemplates returns the template descriptors in registration order.
func (r *ResourcesRegistry) ListTemplates() []mcp.ResourceTemplate {
	out := make([]mcp.ResourceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t.descriptor)
	}
	return out
}

// Read resolves the URI against fixed resources, then templates. URIs no
// provider matches return ErrUnknownResource.
func (r *ResourcesRegistry) Read(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	if p, ok := r.providers[uri]; ok {
		return p(ctx, session, uri)
	}
	for _, t := range r.templates {
		if vars := t.tmpl.Match(uri); vars != nil {
			return t.provider(ctx, session, uri, vars)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownResource, uri)
}
