// Package query implements the read side of the application's CQRS split:
// one Handler type per read use case, returning view-ready domain objects
// straight from a repository (SPEC_FULL.md §6).
package query

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
)

// GetAgent fetches a single agent by id, or by id+version when a version is
// pinned.
type GetAgent struct {
	AgentID string
	Version string
}

// GetAgentHandler handles GetAgent.
type GetAgentHandler struct {
	repo agent.Repository
}

func NewGetAgentHandler(repo agent.Repository) *GetAgentHandler {
	return &GetAgentHandler{repo: repo}
}

func (h *GetAgentHandler) Handle(ctx context.Context, q GetAgent) (*agent.AgentDefinition, error) {
	if q.Version != "" {
		return h.repo.FindByIDAndVersion(ctx, q.AgentID, q.Version)
	}
	return h.repo.FindByID(ctx, q.AgentID)
}

// GetAgentBySlug fetches the latest published agent for a tenant-scoped slug.
type GetAgentBySlug struct {
	TenantID string
	Slug     string
}

// GetAgentBySlugHandler handles GetAgentBySlug.
type GetAgentBySlugHandler struct {
	repo agent.Repository
}

func NewGetAgentBySlugHandler(repo agent.Repository) *GetAgentBySlugHandler {
	return &GetAgentBySlugHandler{repo: repo}
}

func (h *GetAgentBySlugHandler) Handle(ctx context.Context, q GetAgentBySlug) (*agent.AgentDefinition, error) {
	return h.repo.FindBySlug(ctx, q.TenantID, q.Slug)
}

// GetAgentVersions lists every version of an agent, newest first.
type GetAgentVersions struct {
	AgentID string
}

// GetAgentVersionsHandler handles GetAgentVersions.
type GetAgentVersionsHandler struct {
	repo agent.Repository
}

func NewGetAgentVersionsHandler(repo agent.Repository) *GetAgentVersionsHandler {
	return &GetAgentVersionsHandler{repo: repo}
}

func (h *GetAgentVersionsHandler) Handle(ctx context.Context, q GetAgentVersions) ([]*agent.AgentDefinition, error) {
	return h.repo.FindVersions(ctx, q.AgentID)
}

// ListAgents paginates a tenant's agents.
type ListAgents struct {
	TenantID string
	Limit    int
	Offset   int
}

// ListAgentsHandler handles ListAgents.
type ListAgentsHandler struct {
	repo agent.Repository
}

func NewListAgentsHandler(repo agent.Repository) *ListAgentsHandler {
	return &ListAgentsHandler{repo: repo}
}

func (h *ListAgentsHandler) Handle(ctx context.Context, q ListAgents) ([]*agent.AgentDefinition, error) {
	return h.repo.List(ctx, q.TenantID, q.Limit, q.Offset)
}

// SearchAgents performs a name/slug search scoped to a tenant.
type SearchAgents struct {
	TenantID string
	Query    string
	Limit    int
	Offset   int
}

// SearchAgentsHandler handles SearchAgents.
type SearchAgentsHandler struct {
	repo agent.Repository
}

func NewSearchAgentsHandler(repo agent.Repository) *SearchAgentsHandler {
	return &SearchAgentsHandler{repo: repo}
}

func (h *SearchAgentsHandler) Handle(ctx context.Context, q SearchAgents) ([]*agent.AgentDefinition, error) {
	return h.repo.Search(ctx, q.TenantID, q.Query, q.Limit, q.Offset)
}

// CountAgents returns the number of agents a tenant owns.
type CountAgents struct {
	TenantID string
}

// CountAgentsHandler handles CountAgents.
type CountAgentsHandler struct {
	repo agent.Repository
}

func NewCountAgentsHandler(repo agent.Repository) *CountAgentsHandler {
	return &CountAgentsHandler{repo: repo}
}

func (h *CountAgentsHandler) Handle(ctx context.Context, q CountAgents) (int, error) {
	return h.repo.Count(ctx, q.TenantID)
}
