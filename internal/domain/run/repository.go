package run

import "context"

// Repository defines the interface for run persistence. This is the
// AgentStore contract from SPEC_FULL.md §6, specialized to the Run
// aggregate; get_agent lives on agent.Repository, and no repository in this
// module implements append_trace.
type Repository interface {
	// Save persists a run aggregate and its events
	Save(ctx context.Context, r *Run) error

	// FindByID retrieves a run by ID
	FindByID(ctx context.Context, id string) (*Run, error)

	// FindByAgentID retrieves runs for a specific agent
	FindByAgentID(ctx context.Context, agentID string, limit, offset int) ([]*Run, error)

	// FindByStatus retrieves runs by status
	FindByStatus(ctx context.Context, status Status, limit, offset int) ([]*Run, error)

	// FindByParentRunID retrieves the direct children of a run, ordered by
	// spawn ordinal. Used by the Orchestration Kernel's
	// max_children_per_parent check and by evaluate_and_replan.
	FindByParentRunID(ctx context.Context, parentRunID string) ([]*Run, error)

	// FindByParentAndSpawnKey implements spawn_run idempotency: returns the
	// existing child for (parent_run_id, spawn_key) if one exists.
	FindByParentAndSpawnKey(ctx context.Context, parentRunID, spawnKey string) (*Run, error)

	// FindActiveDescendants retrieves all non-terminal runs reachable from
	// the given run through parent_run_id, for cancel_subtree.
	FindActiveDescendants(ctx context.Context, rootRunID string) ([]*Run, error)

	// Update updates an existing run
	Update(ctx context.Context, r *Run) error

	// Delete removes a run (soft delete recommended)
	Delete(ctx context.Context, id string) error

	// LoadFromEvents rebuilds a run from the event store
	LoadFromEvents(ctx context.Context, id string) (*Run, error)
}
