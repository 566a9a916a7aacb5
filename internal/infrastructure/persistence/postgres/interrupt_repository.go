package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentkernel/agentkernel/internal/domain/humanloop"
	pkgerrors "github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// InterruptRepository persists human-in-the-loop interrupts: the pause
// row a human_input/user_approval node leaves, and the resume payload the
// answer writes back into it.
type InterruptRepository struct {
	pool       *pgxpool.Pool
	eventStore *EventStore
}

// NewInterruptRepository creates an interrupt repository over pool.
func NewInterruptRepository(pool *pgxpool.Pool, eventStore *EventStore) *InterruptRepository {
	return &InterruptRepository{pool: pool, eventStore: eventStore}
}

const interruptColumns = `id, run_id, node_id, reason, resume_key, state_snapshot, resume_payload, resolved, resolved_at, created_at`

// Save persists a new interrupt and flushes its domain events.
func (r *InterruptRepository) Save(ctx context.Context, interrupt *humanloop.Interrupt) error {
	snapshotJSON, _ := json.Marshal(interrupt.StateSnapshot())
	payloadJSON, _ := json.Marshal(interrupt.ResumePayload())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO interrupts (`+interruptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		interrupt.ID(), interrupt.RunID(), interrupt.NodeID(), string(interrupt.Reason()),
		nullableString(interrupt.ResumeKey()), snapshotJSON, payloadJSON,
		interrupt.IsResolved(), interrupt.ResolvedAt(), interrupt.CreatedAt(),
	)
	if err != nil {
		return pkgerrors.Internal("failed to save interrupt", err)
	}

	return r.flushEvents(ctx, interrupt)
}

// Update persists a resolution.
func (r *InterruptRepository) Update(ctx context.Context, interrupt *humanloop.Interrupt) error {
	payloadJSON, _ := json.Marshal(interrupt.ResumePayload())

	_, err := r.pool.Exec(ctx, `
		UPDATE interrupts
		SET resolved = $1, resume_payload = $2, resolved_at = $3
		WHERE id = $4
	`, interrupt.IsResolved(), payloadJSON, interrupt.ResolvedAt(), interrupt.ID())
	if err != nil {
		return pkgerrors.Internal("failed to update interrupt", err)
	}

	return r.flushEvents(ctx, interrupt)
}

// FindByID retrieves an interrupt by id.
func (r *InterruptRepository) FindByID(ctx context.Context, id string) (*humanloop.Interrupt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+interruptColumns+` FROM interrupts WHERE id = $1`, id)
	interrupt, err := scanInterrupt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.NotFound("interrupt", id)
		}
		return nil, pkgerrors.Internal("failed to find interrupt", err)
	}
	return interrupt, nil
}

// FindByRunID retrieves every interrupt a run has raised, oldest first.
func (r *InterruptRepository) FindByRunID(ctx context.Context, runID string) ([]*humanloop.Interrupt, error) {
	return r.findForRun(ctx, runID, false)
}

// FindUnresolvedByRunID retrieves the interrupts still waiting on a
// human, oldest first.
func (r *InterruptRepository) FindUnresolvedByRunID(ctx context.Context, runID string) ([]*humanloop.Interrupt, error) {
	return r.findForRun(ctx, runID, true)
}

func (r *InterruptRepository) findForRun(ctx context.Context, runID string, unresolvedOnly bool) ([]*humanloop.Interrupt, error) {
	query := `SELECT ` + interruptColumns + ` FROM interrupts WHERE run_id = $1 ORDER BY created_at ASC`
	if unresolvedOnly {
		query = `SELECT ` + interruptColumns + ` FROM interrupts WHERE run_id = $1 AND NOT resolved ORDER BY created_at ASC`
	}

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, pkgerrors.Internal("failed to query interrupts", err)
	}
	defer rows.Close()

	interrupts := make([]*humanloop.Interrupt, 0)
	for rows.Next() {
		interrupt, err := scanInterrupt(rows)
		if err != nil {
			return nil, pkgerrors.Internal("failed to scan interrupt", err)
		}
		interrupts = append(interrupts, interrupt)
	}
	return interrupts, rows.Err()
}

// Delete removes an interrupt.
func (r *InterruptRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM interrupts WHERE id = $1`, id)
	if err != nil {
		return pkgerrors.Internal("failed to delete interrupt", err)
	}
	return nil
}

func (r *InterruptRepository) flushEvents(ctx context.Context, interrupt *humanloop.Interrupt) error {
	if len(interrupt.Events()) == 0 {
		return nil
	}
	if err := r.eventStore.SaveEvents(ctx, interrupt.ID(), "interrupt", interrupt.ID(), interrupt.Events()); err != nil {
		return err
	}
	interrupt.ClearEvents()
	return nil
}

func scanInterrupt(row pgx.Row) (*humanloop.Interrupt, error) {
	var (
		id, runID, nodeID, reason string
		resumeKey                 *string
		snapshotJSON, payloadJSON []byte
		resolved                  bool
		resolvedAt                *time.Time
		createdAt                 time.Time
	)
	if err := row.Scan(&id, &runID, &nodeID, &reason, &resumeKey, &snapshotJSON, &payloadJSON, &resolved, &resolvedAt, &createdAt); err != nil {
		return nil, err
	}

	var snapshot, payload map[string]interface{}
	_ = json.Unmarshal(snapshotJSON, &snapshot)
	_ = json.Unmarshal(payloadJSON, &payload)

	key := ""
	if resumeKey != nil {
		key = *resumeKey
	}
	return humanloop.Reconstitute(id, runID, nodeID, humanloop.Reason(reason), key, snapshot, payload, resolved, resolvedAt, createdAt), nil
}
