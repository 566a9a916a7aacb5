package postgres

import (
	"context"
	"encoding/json"

	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunRepository implements run.Repository against Postgres, projecting
// each Run aggregate onto a CRUD row (for queries) while also appending its
// domain events to the shared event store (for LoadFromEvents and replay).
type RunRepository struct {
	pool       *pgxpool.Pool
	eventStore *EventStore
}

// NewRunRepository creates a new run repository.
func NewRunRepository(pool *pgxpool.Pool, eventStore *EventStore) *RunRepository {
	return &RunRepository{pool: pool, eventStore: eventStore}
}

// Save persists a new run aggregate and its events.
func (r *RunRepository) Save(ctx context.Context, runAgg *run.Run) error {
	inputJSON, _ := json.Marshal(runAgg.Input())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO runs (
			id, tenant_id, agent_id, agent_version, status, input,
			root_run_id, parent_run_id, parent_node_id, depth, spawn_key,
			orchestration_group_id, delegation_grant_id, cancelled,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		runAgg.ID(), runAgg.TenantID(), runAgg.AgentID(), runAgg.AgentVersion(), string(runAgg.Status()), inputJSON,
		runAgg.RootRunID(), nullableString(runAgg.ParentRunID()), nullableString(runAgg.ParentNodeID()), runAgg.Depth(), nullableString(runAgg.SpawnKey()),
		nullableString(runAgg.OrchestrationGroupID()), nullableString(runAgg.DelegationGrantID()), runAgg.IsCancelled(),
		runAgg.CreatedAt(), runAgg.UpdatedAt(),
	)
	if err != nil {
		return errors.Internal("failed to save run", err)
	}

	return r.flushEvents(ctx, runAgg)
}

// Update persists an existing run aggregate's mutated fields and events.
func (r *RunRepository) Update(ctx context.Context, runAgg *run.Run) error {
	outputJSON, _ := json.Marshal(runAgg.OutputResult())

	_, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET status = $1, output_result = $2, error_message = $3,
		    checkpoint_ref = $4, engine_run_ref = $5, cancelled = $6,
		    started_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $10
	`,
		string(runAgg.Status()), outputJSON, nullableString(runAgg.ErrorMessage()),
		nullableString(runAgg.CheckpointRef()), nullableString(runAgg.EngineRunRef()), runAgg.IsCancelled(),
		runAgg.StartedAt(), runAgg.CompletedAt(), runAgg.UpdatedAt(), runAgg.ID(),
	)
	if err != nil {
		return errors.Internal("failed to update run", err)
	}

	return r.flushEvents(ctx, runAgg)
}

func (r *RunRepository) flushEvents(ctx context.Context, runAgg *run.Run) error {
	if len(runAgg.Events()) == 0 {
		return nil
	}
	streamID := pkguuid.New()
	if err := r.eventStore.SaveEvents(ctx, streamID, "run", runAgg.ID(), runAgg.Events()); err != nil {
		return err
	}
	runAgg.ClearEvents()
	return nil
}

// FindByID retrieves a run by ID.
func (r *RunRepository) FindByID(ctx context.Context, id string) (*run.Run, error) {
	row := r.pool.QueryRow(ctx, runSelectColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// FindByAgentID retrieves runs for a specific agent, newest first.
func (r *RunRepository) FindByAgentID(ctx context.Context, agentID string, limit, offset int) ([]*run.Run, error) {
	rows, err := r.pool.Query(ctx, runSelectColumns+`
		FROM runs WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, agentID, limit, offset)
	if err != nil {
		return nil, errors.Internal("failed to query runs by agent", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// FindByStatus retrieves runs in a given status, across agents.
func (r *RunRepository) FindByStatus(ctx context.Context, status run.Status, limit, offset int) ([]*run.Run, error) {
	rows, err := r.pool.Query(ctx, runSelectColumns+`
		FROM runs WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, errors.Internal("failed to query runs by status", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// FindByParentRunID retrieves the direct children of a run, ordered by
// creation (a stand-in for spawn ordinal — children are spawned in order
// and persisted immediately, so insertion order already matches it).
func (r *RunRepository) FindByParentRunID(ctx context.Context, parentRunID string) ([]*run.Run, error) {
	rows, err := r.pool.Query(ctx, runSelectColumns+`
		FROM runs WHERE parent_run_id = $1 ORDER BY created_at ASC
	`, parentRunID)
	if err != nil {
		return nil, errors.Internal("failed to query run children", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// FindByParentAndSpawnKey implements spawn_run idempotency.
func (r *RunRepository) FindByParentAndSpawnKey(ctx context.Context, parentRunID, spawnKey string) (*run.Run, error) {
	row := r.pool.QueryRow(ctx, runSelectColumns+`
		FROM runs WHERE parent_run_id = $1 AND spawn_key = $2
	`, parentRunID, spawnKey)
	return scanRun(row)
}

// FindActiveDescendants retrieves all non-terminal runs reachable from
// rootRunID through parent_run_id, for cancel_subtree's BFS.
func (r *RunRepository) FindActiveDescendants(ctx context.Context, rootRunID string) ([]*run.Run, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM runs WHERE parent_run_id = $1
			UNION ALL
			SELECT c.id FROM runs c JOIN subtree s ON c.parent_run_id = s.id
		)`+runSelectColumns+`
		FROM runs
		WHERE id IN (SELECT id FROM subtree)
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at ASC
	`, rootRunID)
	if err != nil {
		return nil, errors.Internal("failed to query active descendants", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Delete removes a run.
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return errors.Internal("failed to delete run", err)
	}
	return nil
}

// LoadFromEvents rebuilds a run from its event stream. The event store
// persists typed domain events (run.RunCreated, run.RunStarted, ...) via
// eventbus.Event, so a successful load replays the exact sequence recorded
// by Save/Update rather than the CRUD projection FindByID reads from.
func (r *RunRepository) LoadFromEvents(ctx context.Context, id string) (*run.Run, error) {
	events, err := r.eventStore.LoadTypedEvents(ctx, "run", id)
	if err != nil || len(events) == 0 {
		return r.FindByID(ctx, id)
	}
	return run.Reconstruct(events)
}

const runSelectColumns = `
	SELECT id, tenant_id, agent_id, agent_version, status, input, output_result,
	       error_message, checkpoint_ref, engine_run_ref, root_run_id, parent_run_id,
	       parent_node_id, depth, spawn_key, orchestration_group_id, delegation_grant_id,
	       cancelled, created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*run.Run, error) {
	var d run.Data
	var inputJSON, outputJSON []byte
	var agentVersion, errorMessage, checkpointRef, engineRunRef, parentRunID, parentNodeID, spawnKey, groupID, grantID *string
	var cancelled bool

	err := row.Scan(
		&d.ID, &d.TenantID, &d.AgentID, &agentVersion, &d.Status, &inputJSON, &outputJSON,
		&errorMessage, &checkpointRef, &engineRunRef, &d.Lineage.RootRunID, &parentRunID,
		&parentNodeID, &d.Lineage.Depth, &spawnKey, &groupID, &grantID,
		&cancelled, &d.CreatedAt, &d.StartedAt, &d.CompletedAt, &d.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("run", "")
		}
		return nil, errors.Internal("failed to scan run", err)
	}

	d.AgentVersion = deref(agentVersion)
	d.ErrorMessage = deref(errorMessage)
	d.CheckpointRef = deref(checkpointRef)
	d.EngineRunRef = deref(engineRunRef)
	d.Lineage.ParentRunID = deref(parentRunID)
	d.Lineage.ParentNodeID = deref(parentNodeID)
	d.Lineage.SpawnKey = deref(spawnKey)
	d.Lineage.OrchestrationGroupID = deref(groupID)
	d.Lineage.DelegationGrantID = deref(grantID)
	d.Cancelled = cancelled

	_ = json.Unmarshal(inputJSON, &d.Input)
	_ = json.Unmarshal(outputJSON, &d.OutputResult)

	return run.ReconstructFromData(d), nil
}

func scanRuns(rows pgx.Rows) ([]*run.Run, error) {
	runs := make([]*run.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
