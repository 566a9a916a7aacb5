package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// AgentRepository is an in-process agent.Repository, grounded on the same
// mutex-guarded map pattern as tools.Registry. It backs local development
// and tests where a Postgres instance isn't wired up; every version of
// every AgentDefinition is kept, newest last, mirroring the append-only
// versioning Postgres' agents table enforces.
type AgentRepository struct {
	mu       sync.RWMutex
	versions map[string][]*agent.AgentDefinition // agent id -> versions, oldest first
	bySlug   map[string]string                   // tenant_id/slug -> agent id
}

// NewAgentRepository creates a new in-memory agent repository.
func NewAgentRepository() *AgentRepository {
	return &AgentRepository{
		versions: make(map[string][]*agent.AgentDefinition),
		bySlug:   make(map[string]string),
	}
}

func slugKey(tenantID, slug string) string {
	return tenantID + "/" + slug
}

func (r *AgentRepository) Save(ctx context.Context, a *agent.AgentDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions[a.ID()] = append(r.versions[a.ID()], a)
	r.bySlug[slugKey(a.TenantID(), a.Slug())] = a.ID()
	a.ClearEvents()
	return nil
}

func (r *AgentRepository) FindByID(ctx context.Context, id string) (*agent.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.versions[id]
	if !ok || len(versions) == 0 {
		return nil, errors.NotFound("agent", id)
	}
	return versions[len(versions)-1], nil
}

func (r *AgentRepository) FindByIDAndVersion(ctx context.Context, id, version string) (*agent.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions[id] {
		if v.Version() == version {
			return v, nil
		}
	}
	return nil, errors.NotFound("agent", id)
}

func (r *AgentRepository) FindVersions(ctx context.Context, id string) ([]*agent.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[id]
	out := make([]*agent.AgentDefinition, len(versions))
	for i, v := range versions {
		out[len(versions)-1-i] = v // newest first
	}
	return out, nil
}

func (r *AgentRepository) FindBySlug(ctx context.Context, tenantID, slug string) (*agent.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySlug[slugKey(tenantID, slug)]
	if !ok {
		return nil, errors.NotFound("agent", slug)
	}

	versions := r.versions[id]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status() == agent.StatusPublished {
			return versions[i], nil
		}
	}
	if len(versions) > 0 {
		return versions[len(versions)-1], nil
	}
	return nil, errors.NotFound("agent", slug)
}

func (r *AgentRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]*agent.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*agent.AgentDefinition
	for _, versions := range r.versions {
		if len(versions) == 0 {
			continue
		}
		latest := versions[len(versions)-1]
		if latest.TenantID() == tenantID {
			all = append(all, latest)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt().After(all[j].CreatedAt()) })
	return paginate(all, limit, offset), nil
}

func (r *AgentRepository) Search(ctx context.Context, tenantID, query string, limit, offset int) ([]*agent.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query = strings.ToLower(query)
	var matches []*agent.AgentDefinition
	for _, versions := range r.versions {
		if len(versions) == 0 {
			continue
		}
		latest := versions[len(versions)-1]
		if latest.TenantID() != tenantID {
			continue
		}
		if strings.Contains(strings.ToLower(latest.Name()), query) || strings.Contains(strings.ToLower(latest.Slug()), query) {
			matches = append(matches, latest)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt().After(matches[j].CreatedAt()) })
	return paginate(matches, limit, offset), nil
}

func (r *AgentRepository) Count(ctx context.Context, tenantID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, versions := range r.versions {
		if len(versions) > 0 && versions[len(versions)-1].TenantID() == tenantID {
			count++
		}
	}
	return count, nil
}

func (r *AgentRepository) Update(ctx context.Context, a *agent.AgentDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.versions[a.ID()]
	for i, v := range versions {
		if v.Version() == a.Version() {
			versions[i] = a
			a.ClearEvents()
			return nil
		}
	}
	return errors.NotFound("agent", a.ID())
}

func (r *AgentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[id]; !ok {
		return errors.NotFound("agent", id)
	}
	delete(r.versions, id)
	for k, v := range r.bySlug {
		if v == id {
			delete(r.bySlug, k)
		}
	}
	return nil
}

func paginate(items []*agent.AgentDefinition, limit, offset int) []*agent.AgentDefinition {
	if offset >= len(items) {
		return []*agent.AgentDefinition{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
