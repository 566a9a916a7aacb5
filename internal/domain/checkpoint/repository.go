package checkpoint

import "context"

// Repository persists run checkpoints. The Engine only ever appends
// (Save at each node boundary) and the resume path only ever reads the
// newest snapshot (FindLatest); FindHistory serves debugging and replay
// tooling.
type Repository interface {
	// Save persists a checkpoint snapshot.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// FindLatest retrieves the newest checkpoint for a run and namespace.
	FindLatest(ctx context.Context, runID string, checkpointNS string) (*Checkpoint, error)

	// FindByCheckpointID retrieves one snapshot by its checkpoint id.
	FindByCheckpointID(ctx context.Context, runID, checkpointNS, checkpointID string) (*Checkpoint, error)

	// FindHistory retrieves a run's snapshots newest-first, up to limit,
	// optionally only those older than the `before` checkpoint id.
	FindHistory(ctx context.Context, runID string, checkpointNS string, limit int, before string) ([]*Checkpoint, error)

	// Delete removes a checkpoint.
	Delete(ctx context.Context, id string) error
}
