package memory

import (
	"context"
	"sync"

	"github.com/agentkernel/agentkernel/internal/domain/checkpoint"
)

// CheckpointRepository is an in-process checkpoint.Repository: snapshots
// kept per (run_id, checkpoint_ns) in write order, latest last.
type CheckpointRepository struct {
	mu    sync.RWMutex
	byKey map[string][]*checkpoint.Checkpoint // runID+"/"+ns -> snapshots in write order
}

// NewCheckpointRepository creates a new in-memory checkpoint repository.
func NewCheckpointRepository() *CheckpointRepository {
	return &CheckpointRepository{byKey: make(map[string][]*checkpoint.Checkpoint)}
}

func checkpointKey(runID, checkpointNS string) string { return runID + "/" + checkpointNS }

func (r *CheckpointRepository) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := checkpointKey(cp.RunID(), cp.CheckpointNS())
	r.byKey[k] = append(r.byKey[k], cp)
	return nil
}

func (r *CheckpointRepository) FindLatest(ctx context.Context, runID string, checkpointNS string) (*checkpoint.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cps := r.byKey[checkpointKey(runID, checkpointNS)]
	if len(cps) == 0 {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	return cps[len(cps)-1], nil
}

func (r *CheckpointRepository) FindByCheckpointID(ctx context.Context, runID, checkpointNS, checkpointID string) (*checkpoint.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cp := range r.byKey[checkpointKey(runID, checkpointNS)] {
		if cp.CheckpointID() == checkpointID {
			return cp, nil
		}
	}
	return nil, checkpoint.ErrCheckpointNotFound
}

func (r *CheckpointRepository) FindHistory(ctx context.Context, runID string, checkpointNS string, limit int, before string) ([]*checkpoint.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cps := r.byKey[checkpointKey(runID, checkpointNS)]
	out := make([]*checkpoint.Checkpoint, 0, len(cps))
	// newest first, matching the persistent adapter's ordering
	for i := len(cps) - 1; i >= 0; i-- {
		if before != "" && cps[i].CheckpointID() >= before {
			continue
		}
		out = append(out, cps[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *CheckpointRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, cps := range r.byKey {
		for i, cp := range cps {
			if cp.ID() == id {
				r.byKey[k] = append(cps[:i], cps[i+1:]...)
				return nil
			}
		}
	}
	return checkpoint.ErrCheckpointNotFound
}
