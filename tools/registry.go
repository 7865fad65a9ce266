// Package tools publishes the tools of a discovery registry on an MCP server.
// Descriptors are translated into MCP tool definitions with JSON Schema
// inputs, and every call is dispatched by name through the registry.
package tools

import (
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

// ToolSpec is the serializable summary of a registered tool, used by the
// /tools endpoint and the CLI.
type ToolSpec struct {
	// Name is the MCP tool name (e.g., "cbeta_kwic_search")
	Name string `json:"name"`

	// Title is the human-readable tool title for annotations
	Title string `json:"title,omitempty"`

	// Description is the tool description shown to LLMs, in the served locale
	Description string `json:"description"`

	// Category groups tools logically (catalog, search, work)
	Category string `json:"category,omitempty"`

	// Unit is the path of the unit that declared the tool
	Unit string `json:"unit"`

	Params []ParamSpec `json:"params,omitempty"`

	// ReadOnly indicates the tool doesn't modify remote state
	ReadOnly bool `json:"read_only"`

	// Idempotent indicates repeated calls have the same effect
	Idempotent bool `json:"idempotent"`

	// OpenWorld indicates the tool accesses external resources
	OpenWorld bool `json:"open_world"`
}

// ParamSpec summarizes one parameter.
type ParamSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Specs summarizes every tool in reg, in registration order.
func Specs(reg *registry.Registry, locale string) []ToolSpec {
	tools := reg.Tools()
	specs := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, NewToolSpec(t, locale))
	}
	return specs
}

// NewToolSpec summarizes one tool.
func NewToolSpec(t registry.Tool, locale string) ToolSpec {
	spec := ToolSpec{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description.In(locale),
		Category:    t.Category,
		Unit:        t.Unit,
		ReadOnly:    t.ReadOnly,
		Idempotent:  t.Idempotent,
		OpenWorld:   t.OpenWorld,
	}
	for _, p := range t.Params {
		spec.Params = append(spec.Params, ParamSpec{
			Name:        p.Name,
			Type:        string(p.Type),
			Required:    p.Required,
			Default:     p.Default,
			Description: p.Description.In(locale),
			Enum:        p.Enum,
		})
	}
	return spec
}

// ptr is a helper to create a pointer to a value.
func ptr[T any](v T) *T {
	return &v
}
