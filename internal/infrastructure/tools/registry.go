package tools

import (
	"fmt"
	"sync"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// Registry holds the tool Definitions a deployment exposes to agent
// graphs, keyed by slug. The Graph Compiler validates tool nodes against
// Slugs(); the Invoker resolves and executes through Get().
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition, filling config defaults. Slugs are unique.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return errors.InvalidInput("definition", "tool definition is required")
	}
	if err := def.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Slug]; exists {
		return errors.InvalidInput("slug", fmt.Sprintf("tool already registered: %s", def.Slug))
	}
	r.defs[def.Slug] = def
	return nil
}

// Unregister removes a definition.
func (r *Registry) Unregister(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[slug]; !exists {
		return errors.NotFound("tool", slug)
	}
	delete(r.defs, slug)
	return nil
}

// Get resolves a definition by slug.
func (r *Registry) Get(slug string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.defs[slug]
	if !exists {
		return nil, errors.NotFound("tool", slug)
	}
	return def, nil
}

// List returns every registered definition.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	return defs
}

// Slugs returns the registered slug set, the shape the Graph Compiler's
// Catalog wants for UnknownTool validation.
func (r *Registry) Slugs() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(r.defs))
	for slug := range r.defs {
		out[slug] = true
	}
	return out
}

// Schemas returns the name/description/parameters triples handed to a
// model as its tool palette.
func (r *Registry) Schemas() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]map[string]interface{}, 0, len(r.defs))
	for _, def := range r.defs {
		if def.Status != StatusActive {
			continue
		}
		schemas = append(schemas, map[string]interface{}{
			"name":        def.Slug,
			"description": def.Description,
			"parameters":  def.InputSchema,
		})
	}
	return schemas
}
