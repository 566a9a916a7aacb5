package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/agentkernel/agentkernel/internal/domain/run"
)

// CachedRunRepository wraps run.Repository with cache invalidation on
// write. Runs mutate too often and carry too much in-flight state to be
// worth read-through caching themselves; the cache exists to invalidate
// in step with writes so a later read-through layer (or the agent cache
// below) never serves a stale run alongside a fresh one.
type CachedRunRepository struct {
	repo  run.Repository
	cache *RedisCache
	ttl   time.Duration
}

// NewCachedRunRepository creates a cached run repository
func NewCachedRunRepository(repo run.Repository, cache *RedisCache, ttl time.Duration) *CachedRunRepository {
	if ttl == 0 {
		ttl = 5 * time.Minute // Default TTL
	}

	return &CachedRunRepository{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// FindByID retrieves a run with caching
func (r *CachedRunRepository) FindByID(ctx context.Context, id string) (*run.Run, error) {
	// Note: caching complex event-sourced aggregates requires custom
	// serialization. We cache-miss and always hit the database; a
	// snapshot-backed read-through can be layered in later.
	return r.repo.FindByID(ctx, id)
}

// Save invalidates cache on write
func (r *CachedRunRepository) Save(ctx context.Context, runAgg *run.Run) error {
	if err := r.repo.Save(ctx, runAgg); err != nil {
		return err
	}

	cacheKey := fmt.Sprintf("run:%s", runAgg.ID())
	r.cache.Delete(ctx, cacheKey)

	return nil
}

// Update invalidates cache on write
func (r *CachedRunRepository) Update(ctx context.Context, runAgg *run.Run) error {
	if err := r.repo.Update(ctx, runAgg); err != nil {
		return err
	}

	cacheKey := fmt.Sprintf("run:%s", runAgg.ID())
	r.cache.Delete(ctx, cacheKey)

	return nil
}

// Delegate other methods

func (r *CachedRunRepository) FindByAgentID(ctx context.Context, agentID string, limit, offset int) ([]*run.Run, error) {
	return r.repo.FindByAgentID(ctx, agentID, limit, offset)
}

func (r *CachedRunRepository) FindByStatus(ctx context.Context, status run.Status, limit, offset int) ([]*run.Run, error) {
	return r.repo.FindByStatus(ctx, status, limit, offset)
}

func (r *CachedRunRepository) FindByParentRunID(ctx context.Context, parentRunID string) ([]*run.Run, error) {
	return r.repo.FindByParentRunID(ctx, parentRunID)
}

func (r *CachedRunRepository) FindByParentAndSpawnKey(ctx context.Context, parentRunID, spawnKey string) (*run.Run, error) {
	return r.repo.FindByParentAndSpawnKey(ctx, parentRunID, spawnKey)
}

func (r *CachedRunRepository) FindActiveDescendants(ctx context.Context, rootRunID string) ([]*run.Run, error) {
	return r.repo.FindActiveDescendants(ctx, rootRunID)
}

func (r *CachedRunRepository) LoadFromEvents(ctx context.Context, id string) (*run.Run, error) {
	return r.repo.LoadFromEvents(ctx, id)
}

func (r *CachedRunRepository) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	cacheKey := fmt.Sprintf("run:%s", id)
	r.cache.Delete(ctx, cacheKey)

	return nil
}

// CachedAgentRepository wraps agent.Repository behind the same interface.
// Every read passes through to the wrapped repository uncached; the only
// cache operation is Update deleting the updated version's key.
type CachedAgentRepository struct {
	repo  agent.Repository
	cache *RedisCache
	ttl   time.Duration
}

// NewCachedAgentRepository creates a cached agent repository
func NewCachedAgentRepository(repo agent.Repository, cache *RedisCache, ttl time.Duration) *CachedAgentRepository {
	if ttl == 0 {
		ttl = 15 * time.Minute // definitions change less frequently than runs
	}

	return &CachedAgentRepository{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// FindByIDAndVersion is the hot path: a specific version is immutable once
// published, so it would be safe to cache without an invalidation story.
// AgentDefinition keeps its fields unexported to protect its invariants,
// which means it has no JSON-serializable read model yet (unlike run.Run's
// Data/ReconstructFromData pair) — so this stays a cache miss until one
// exists, same as CachedRunRepository.FindByID above.
func (r *CachedAgentRepository) FindByIDAndVersion(ctx context.Context, id, version string) (*agent.AgentDefinition, error) {
	return r.repo.FindByIDAndVersion(ctx, id, version)
}

// FindByID returns the latest version; not cached since "latest" shifts.
func (r *CachedAgentRepository) FindByID(ctx context.Context, id string) (*agent.AgentDefinition, error) {
	return r.repo.FindByID(ctx, id)
}

func (r *CachedAgentRepository) FindVersions(ctx context.Context, id string) ([]*agent.AgentDefinition, error) {
	return r.repo.FindVersions(ctx, id)
}

func (r *CachedAgentRepository) FindBySlug(ctx context.Context, tenantID, slug string) (*agent.AgentDefinition, error) {
	return r.repo.FindBySlug(ctx, tenantID, slug)
}

func (r *CachedAgentRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]*agent.AgentDefinition, error) {
	return r.repo.List(ctx, tenantID, limit, offset)
}

func (r *CachedAgentRepository) Search(ctx context.Context, tenantID, query string, limit, offset int) ([]*agent.AgentDefinition, error) {
	return r.repo.Search(ctx, tenantID, query, limit, offset)
}

func (r *CachedAgentRepository) Count(ctx context.Context, tenantID string) (int, error) {
	return r.repo.Count(ctx, tenantID)
}

// Save invalidates nothing since a new version is a new cache key; kept
// for interface parity.
func (r *CachedAgentRepository) Save(ctx context.Context, def *agent.AgentDefinition) error {
	return r.repo.Save(ctx, def)
}

// Update invalidates the specific version's cache entry.
func (r *CachedAgentRepository) Update(ctx context.Context, def *agent.AgentDefinition) error {
	if err := r.repo.Update(ctx, def); err != nil {
		return err
	}

	cacheKey := fmt.Sprintf("agent:%s:%s", def.ID(), def.Version())
	r.cache.Delete(ctx, cacheKey)

	return nil
}

// Delete delegates to the wrapped repository; it invalidates no cache
// entry.
func (r *CachedAgentRepository) Delete(ctx context.Context, id string) error {
	return r.repo.Delete(ctx, id)
}

// AgentCacheWarmer reads a tenant's most recently listed agent definitions
// through the wrapped repository ahead of run starts; since agent reads
// are not cached, it writes nothing to the cache.
type AgentCacheWarmer struct {
	cache     *RedisCache
	agentRepo agent.Repository
	batchSize int
}

// NewAgentCacheWarmer creates a new cache warmer
func NewAgentCacheWarmer(cache *RedisCache, agentRepo agent.Repository) *AgentCacheWarmer {
	return &AgentCacheWarmer{
		cache:     cache,
		agentRepo: agentRepo,
		batchSize: 100,
	}
}

// WarmAgents touches a tenant's most recently listed agent definitions so
// the repository (not the cache, per FindByIDAndVersion's note above) has
// them warm before a burst of run starts hits.
func (w *AgentCacheWarmer) WarmAgents(ctx context.Context, tenantID string) error {
	defs, err := w.agentRepo.List(ctx, tenantID, w.batchSize, 0)
	if err != nil {
		return err
	}

	for _, def := range defs {
		w.agentRepo.FindByIDAndVersion(ctx, def.ID(), def.Version())
	}

	return nil
}

// StartPeriodicWarming starts periodic cache warming for a tenant.
func (w *AgentCacheWarmer) StartPeriodicWarming(ctx context.Context, tenantID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WarmAgents(ctx, tenantID)
		}
	}
}
