package query

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/run"
)

// GetRun fetches a single run by id.
type GetRun struct {
	RunID string
}

// GetRunHandler handles GetRun.
type GetRunHandler struct {
	repo run.Repository
}

func NewGetRunHandler(repo run.Repository) *GetRunHandler {
	return &GetRunHandler{repo: repo}
}

func (h *GetRunHandler) Handle(ctx context.Context, q GetRun) (*run.Run, error) {
	return h.repo.FindByID(ctx, q.RunID)
}

// ListRunsByAgent paginates the runs of a single agent.
type ListRunsByAgent struct {
	AgentID string
	Limit   int
	Offset  int
}

// ListRunsByAgentHandler handles ListRunsByAgent.
type ListRunsByAgentHandler struct {
	repo run.Repository
}

func NewListRunsByAgentHandler(repo run.Repository) *ListRunsByAgentHandler {
	return &ListRunsByAgentHandler{repo: repo}
}

func (h *ListRunsByAgentHandler) Handle(ctx context.Context, q ListRunsByAgent) ([]*run.Run, error) {
	return h.repo.FindByAgentID(ctx, q.AgentID, q.Limit, q.Offset)
}

// ListRunsByStatus paginates runs in a given status, across agents.
type ListRunsByStatus struct {
	Status run.Status
	Limit  int
	Offset int
}

// ListRunsByStatusHandler handles ListRunsByStatus.
type ListRunsByStatusHandler struct {
	repo run.Repository
}

func NewListRunsByStatusHandler(repo run.Repository) *ListRunsByStatusHandler {
	return &ListRunsByStatusHandler{repo: repo}
}

func (h *ListRunsByStatusHandler) Handle(ctx context.Context, q ListRunsByStatus) ([]*run.Run, error) {
	return h.repo.FindByStatus(ctx, q.Status, q.Limit, q.Offset)
}

// GetRunChildren retrieves the direct children of a run, ordered by spawn
// ordinal (the Lineage view SPEC_FULL.md §4.7 exposes per run).
type GetRunChildren struct {
	RunID string
}

// GetRunChildrenHandler handles GetRunChildren.
type GetRunChildrenHandler struct {
	repo run.Repository
}

func NewGetRunChildrenHandler(repo run.Repository) *GetRunChildrenHandler {
	return &GetRunChildrenHandler{repo: repo}
}

func (h *GetRunChildrenHandler) Handle(ctx context.Context, q GetRunChildren) ([]*run.Run, error) {
	return h.repo.FindByParentRunID(ctx, q.RunID)
}
