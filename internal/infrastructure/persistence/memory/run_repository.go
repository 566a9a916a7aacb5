package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// RunRepository is an in-process run.Repository, used the same way
// AgentRepository stands in for Postgres in local/test wiring — the
// Orchestration Kernel and Engine only ever see the run.Repository
// interface, so this and the Postgres adapter are interchangeable.
type RunRepository struct {
	mu   sync.RWMutex
	runs map[string]*run.Run
}

// NewRunRepository creates a new in-memory run repository.
func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[string]*run.Run)}
}

func (r *RunRepository) Save(ctx context.Context, runAgg *run.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[runAgg.ID()] = runAgg
	runAgg.ClearEvents()
	return nil
}

func (r *RunRepository) FindByID(ctx context.Context, id string) (*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runAgg, ok := r.runs[id]
	if !ok {
		return nil, errors.NotFound("run", id)
	}
	return runAgg, nil
}

func (r *RunRepository) FindByAgentID(ctx context.Context, agentID string, limit, offset int) ([]*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*run.Run
	for _, runAgg := range r.runs {
		if runAgg.AgentID() == agentID {
			out = append(out, runAgg)
		}
	}
	sortByCreatedAt(out)
	return paginateRuns(out, limit, offset), nil
}

func (r *RunRepository) FindByStatus(ctx context.Context, status run.Status, limit, offset int) ([]*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*run.Run
	for _, runAgg := range r.runs {
		if runAgg.Status() == status {
			out = append(out, runAgg)
		}
	}
	sortByCreatedAt(out)
	return paginateRuns(out, limit, offset), nil
}

func (r *RunRepository) FindByParentRunID(ctx context.Context, parentRunID string) ([]*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*run.Run
	for _, runAgg := range r.runs {
		if runAgg.ParentRunID() == parentRunID {
			out = append(out, runAgg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (r *RunRepository) FindByParentAndSpawnKey(ctx context.Context, parentRunID, spawnKey string) (*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if spawnKey == "" {
		return nil, errors.NotFound("run", spawnKey)
	}
	for _, runAgg := range r.runs {
		if runAgg.ParentRunID() == parentRunID && runAgg.SpawnKey() == spawnKey {
			return runAgg, nil
		}
	}
	return nil, errors.NotFound("run", spawnKey)
}

// FindActiveDescendants walks the parent_run_id tree from rootRunID
// (exclusive) and returns every non-terminal descendant, BFS order, for
// cancel_subtree (SPEC_FULL.md §4.7).
func (r *RunRepository) FindActiveDescendants(ctx context.Context, rootRunID string) ([]*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	childrenOf := make(map[string][]*run.Run)
	for _, runAgg := range r.runs {
		if runAgg.ParentRunID() != "" {
			childrenOf[runAgg.ParentRunID()] = append(childrenOf[runAgg.ParentRunID()], runAgg)
		}
	}

	var out []*run.Run
	queue := []string{rootRunID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf[cur] {
			if !child.Status().IsTerminal() {
				out = append(out, child)
			}
			queue = append(queue, child.ID())
		}
	}
	return out, nil
}

func (r *RunRepository) Update(ctx context.Context, runAgg *run.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runAgg.ID()]; !ok {
		return errors.NotFound("run", runAgg.ID())
	}
	r.runs[runAgg.ID()] = runAgg
	runAgg.ClearEvents()
	return nil
}

func (r *RunRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[id]; !ok {
		return errors.NotFound("run", id)
	}
	delete(r.runs, id)
	return nil
}

// LoadFromEvents is not meaningful for the in-memory repository (there is
// no separate event store backing it) — it degrades to FindByID, matching
// how the Postgres adapter's LoadFromEvents would be a no-op replay when
// the aggregate is already in its latest projected shape.
func (r *RunRepository) LoadFromEvents(ctx context.Context, id string) (*run.Run, error) {
	return r.FindByID(ctx, id)
}

func sortByCreatedAt(runs []*run.Run) {
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt().After(runs[j].CreatedAt()) })
}

func paginateRuns(items []*run.Run, limit, offset int) []*run.Run {
	if offset >= len(items) {
		return []*run.Run{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
