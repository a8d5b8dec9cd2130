// Package registry holds the declarative set of capabilities — tools the
// remote side can invoke and resources it can read — and makes them
// enumerable for the capability-discovery handshake.
//
// Capabilities are wired once at startup by the process owner, never
// dynamically by remote clients, so a name or URI collision is a deployment
// bug worth crashing loudly for: Register returns ErrDuplicate and callers
// treat it as fatal.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrDuplicate is returned when a tool name or resource URI is registered
// twice. Registration never silently overwrites.
var ErrDuplicate = errors.New("duplicate capability")

// ErrNotFound is returned by Invoke and ReadResource for unknown names.
var ErrNotFound = errors.New("capability not found")

// Tool is an invocable capability. Most tools proxy their work to the
// companion process; a tool may also be purely local.
type Tool interface {
	Name() string
	Description() string
	InputSchema() *jsonschema.Schema
	Call(ctx context.Context, args map[string]any) (ToolResult, error)
}

// Resource is a read-only state provider addressed by URI.
type Resource interface {
	URI() string
	Name() string
	MIMEType() string
	Description() string
	// Read serves the resource. The requested URI is passed through so a
	// resource registered at a base URI can serve parameterized suffixes.
	Read(ctx context.Context, uri string) (ResourceContent, error)
}

// ToolResult is the content returned by a successful tool call.
type ToolResult struct {
	Content []Content
}

// Content is one item of tool output.
type Content struct {
	Type string
	Text string
}

// TextResult wraps plain text as a single-item tool result.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// ResourceContent is the content returned by a resource read.
type ResourceContent struct {
	Items []ResourceItem
}

// ResourceItem is one item of resource content.
type ResourceItem struct {
	URI      string
	MIMEType string
	Text     string
}

// Registry is the capability table. Registration happens during startup;
// reads are concurrent afterward.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	toolOrder []string
	resources map[string]Resource
	resOrder  []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		resources: make(map[string]Resource),
	}
}

// RegisterTool adds a tool. A second tool with the same name fails with
// ErrDuplicate.
func (r *Registry) RegisterTool(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q: %w", name, ErrDuplicate)
	}
	r.tools[name] = t
	r.toolOrder = append(r.toolOrder, name)
	return nil
}

// RegisterResource adds a resource. A second resource with the same URI
// fails with ErrDuplicate.
func (r *Registry) RegisterResource(res Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	uri := res.URI()
	if _, exists := r.resources[uri]; exists {
		return fmt.Errorf("resource %q: %w", uri, ErrDuplicate)
	}
	r.resources[uri] = res
	r.resOrder = append(r.resOrder, uri)
	return nil
}

// Tools returns all tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// Resources returns all resources in registration order.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Resource, 0, len(r.resOrder))
	for _, uri := range r.resOrder {
		out = append(out, r.resources[uri])
	}
	return out
}

// Invoke calls the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return ToolResult{}, fmt.Errorf("tool %q: %w", name, ErrNotFound)
	}
	return t.Call(ctx, args)
}

// ReadResource serves the resource matching uri: an exact match first, then
// the longest registered URI the request extends with a /-separated suffix
// (so a resource at browser://dom/state also serves
// browser://dom/state/page/2, but not browser://dom/statex).
func (r *Registry) ReadResource(ctx context.Context, uri string) (ResourceContent, error) {
	r.mu.RLock()
	res, ok := r.resources[uri]
	if !ok {
		var bestLen int
		for base, candidate := range r.resources {
			if strings.HasPrefix(uri, base+"/") && len(base) > bestLen {
				res, ok = candidate, true
				bestLen = len(base)
			}
		}
	}
	r.mu.RUnlock()

	if !ok {
		return ResourceContent{}, fmt.Errorf("resource %q: %w", uri, ErrNotFound)
	}
	return res.Read(ctx, uri)
}
