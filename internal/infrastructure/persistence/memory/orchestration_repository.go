package memory

import (
	"context"
	"sync"

	"github.com/agentkernel/agentkernel/internal/domain/orchestration"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// GroupRepository is an in-process orchestration.GroupRepository, used the
// same way AgentRepository stands in for Postgres in local/test wiring.
type GroupRepository struct {
	mu      sync.RWMutex
	groups  map[string]*orchestration.Group
	members map[string][]orchestration.Member // group id -> members, spawn order
}

// NewGroupRepository creates a new in-memory group repository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{
		groups:  make(map[string]*orchestration.Group),
		members: make(map[string][]orchestration.Member),
	}
}

func (r *GroupRepository) Save(ctx context.Context, g *orchestration.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups[g.ID()] = g
	g.ClearEvents()
	return nil
}

func (r *GroupRepository) FindByID(ctx context.Context, id string) (*orchestration.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return nil, errors.NotFound("orchestration_group", id)
	}
	return g, nil
}

func (r *GroupRepository) Update(ctx context.Context, g *orchestration.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[g.ID()]; !ok {
		return errors.NotFound("orchestration_group", g.ID())
	}
	r.groups[g.ID()] = g
	g.ClearEvents()
	return nil
}

func (r *GroupRepository) AddMember(ctx context.Context, m orchestration.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[m.GroupID] = append(r.members[m.GroupID], m)
	return nil
}

func (r *GroupRepository) Members(ctx context.Context, groupID string) ([]orchestration.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]orchestration.Member, len(r.members[groupID]))
	copy(out, r.members[groupID])
	return out, nil
}

func (r *GroupRepository) UpdateMemberStatus(ctx context.Context, groupID, runID string, status orchestration.MemberStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.members[groupID]
	for i, m := range members {
		if m.RunID == runID {
			members[i].Status = status
			return nil
		}
	}
	return errors.NotFound("orchestration_group_member", runID)
}

// FindOpenWithExpiredTimeout scans for groups whose timeout_s has elapsed
// while still running, for the cron-driven sweep in SPEC_FULL.md §10.
func (r *GroupRepository) FindOpenWithExpiredTimeout(ctx context.Context, asOf int64) ([]*orchestration.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*orchestration.Group
	for _, g := range r.groups {
		if g.Status() != orchestration.GroupStatusRunning {
			continue
		}
		policy := g.Policy()
		if policy.TimeoutSeconds <= 0 {
			continue
		}
		deadline := g.StartedAt().Unix() + int64(policy.TimeoutSeconds)
		if asOf >= deadline {
			out = append(out, g)
		}
	}
	return out, nil
}

// GrantRepository is an in-process orchestration.GrantRepository.
type GrantRepository struct {
	mu        sync.RWMutex
	byID      map[string]*orchestration.Grant
	byRunID   map[string]*orchestration.Grant
}

// NewGrantRepository creates a new in-memory grant repository.
func NewGrantRepository() *GrantRepository {
	return &GrantRepository{
		byID:    make(map[string]*orchestration.Grant),
		byRunID: make(map[string]*orchestration.Grant),
	}
}

func (r *GrantRepository) Save(ctx context.Context, g *orchestration.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[g.ID()] = g
	if g.RunID() != "" {
		r.byRunID[g.RunID()] = g
	}
	return nil
}

func (r *GrantRepository) FindByID(ctx context.Context, id string) (*orchestration.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFound("delegation_grant", id)
	}
	return g, nil
}

func (r *GrantRepository) FindByRunID(ctx context.Context, runID string) (*orchestration.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byRunID[runID]
	if !ok {
		return nil, errors.NotFound("delegation_grant", runID)
	}
	return g, nil
}
