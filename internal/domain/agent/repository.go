package agent

import "context"

// Repository defines the interface for AgentDefinition persistence — the
// agent-facing half of the AgentStore contract from SPEC_FULL.md §6
// (get_agent/create/update); Run persistence lives in the run package.
type Repository interface {
	// Save persists a new AgentDefinition version and its events
	Save(ctx context.Context, a *AgentDefinition) error

	// FindByID retrieves the latest version of an agent by id
	FindByID(ctx context.Context, id string) (*AgentDefinition, error)

	// FindByIDAndVersion retrieves a specific version
	FindByIDAndVersion(ctx context.Context, id, version string) (*AgentDefinition, error)

	// FindVersions retrieves all versions of an agent, newest first
	FindVersions(ctx context.Context, id string) ([]*AgentDefinition, error)

	// FindBySlug retrieves the latest published version by tenant-scoped slug
	FindBySlug(ctx context.Context, tenantID, slug string) (*AgentDefinition, error)

	// List retrieves agents with pagination, scoped to a tenant
	List(ctx context.Context, tenantID string, limit, offset int) ([]*AgentDefinition, error)

	// Search performs a name/slug search scoped to a tenant
	Search(ctx context.Context, tenantID, query string, limit, offset int) ([]*AgentDefinition, error)

	// Count returns the number of agents for a tenant
	Count(ctx context.Context, tenantID string) (int, error)

	// Update persists changes to an existing (draft) AgentDefinition version
	Update(ctx context.Context, a *AgentDefinition) error

	// Delete removes an agent definition
	Delete(ctx context.Context, id string) error
}
