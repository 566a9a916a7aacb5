package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentkernel/agentkernel/internal/domain/checkpoint"
)

// CheckpointRepository persists run checkpoints. Snapshots are
// append-only: the Engine inserts one per node boundary and the resume
// path reads the newest back, so the only write conflict handled is an
// identical (run_id, ns, checkpoint_id) being re-saved after a retry.
type CheckpointRepository struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepository creates a checkpoint repository over pool.
func NewCheckpointRepository(pool *pgxpool.Pool) *CheckpointRepository {
	return &CheckpointRepository{pool: pool}
}

const checkpointColumns = `id, run_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, state_values, created_at`

// Save persists a checkpoint snapshot.
func (r *CheckpointRepository) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	stateJSON, _ := json.Marshal(cp.StateValues())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkpoints (`+checkpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, checkpoint_ns, checkpoint_id)
		DO UPDATE SET state_values = $6
	`,
		cp.ID(), cp.RunID(), cp.CheckpointNS(), cp.CheckpointID(),
		nullableString(cp.ParentCheckpointID()), stateJSON, cp.CreatedAt(),
	)
	return err
}

// FindLatest retrieves the newest checkpoint for a run and namespace.
func (r *CheckpointRepository) FindLatest(ctx context.Context, runID string, checkpointNS string) (*checkpoint.Checkpoint, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE run_id = $1 AND checkpoint_ns = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, runID, checkpointNS)
	return scanCheckpoint(row)
}

// FindByCheckpointID retrieves one snapshot by its checkpoint id.
func (r *CheckpointRepository) FindByCheckpointID(ctx context.Context, runID, checkpointNS, checkpointID string) (*checkpoint.Checkpoint, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints
		WHERE run_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3
	`, runID, checkpointNS, checkpointID)
	return scanCheckpoint(row)
}

// FindHistory retrieves a run's snapshots newest-first.
func (r *CheckpointRepository) FindHistory(ctx context.Context, runID string, checkpointNS string, limit int, before string) ([]*checkpoint.Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + checkpointColumns + `
		FROM checkpoints
		WHERE run_id = $1 AND checkpoint_ns = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	args := []interface{}{runID, checkpointNS, limit}
	if before != "" {
		query = `
			SELECT ` + checkpointColumns + `
			FROM checkpoints
			WHERE run_id = $1 AND checkpoint_ns = $2 AND checkpoint_id < $3
			ORDER BY created_at DESC
			LIMIT $4
		`
		args = []interface{}{runID, checkpointNS, before, limit}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Delete removes a checkpoint.
func (r *CheckpointRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM checkpoints WHERE id = $1`, id)
	return err
}

func scanCheckpoint(row pgx.Row) (*checkpoint.Checkpoint, error) {
	var (
		id, runID, ns, cpID string
		parentID            *string
		stateJSON           []byte
		createdAt           time.Time
	)
	if err := row.Scan(&id, &runID, &ns, &cpID, &parentID, &stateJSON, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkpoint.ErrCheckpointNotFound
		}
		return nil, err
	}

	var stateValues map[string]interface{}
	_ = json.Unmarshal(stateJSON, &stateValues)

	parent := ""
	if parentID != nil {
		parent = *parentID
	}
	return checkpoint.Reconstitute(id, runID, ns, cpID, parent, stateValues, createdAt), nil
}
