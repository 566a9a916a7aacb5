// Package command implements the write side of the application's CQRS
// split: one Handler type per use case, each taking a typed command struct
// and returning the mutation's result (SPEC_FULL.md §6).
package command

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
)

// CreateAgent creates the first draft version of an agent.
type CreateAgent struct {
	TenantID     string
	Slug         string
	Name         string
	Graph        agent.Graph
	MemoryConfig map[string]interface{}
	Constraints  agent.ExecutionConstraints
}

// CreateAgentHandler handles CreateAgent.
type CreateAgentHandler struct {
	repo agent.Repository
}

func NewCreateAgentHandler(repo agent.Repository) *CreateAgentHandler {
	return &CreateAgentHandler{repo: repo}
}

func (h *CreateAgentHandler) Handle(ctx context.Context, cmd CreateAgent) (*agent.AgentDefinition, error) {
	def, err := agent.NewAgentDefinition(cmd.TenantID, cmd.Slug, cmd.Name, cmd.Graph, cmd.MemoryConfig, cmd.Constraints)
	if err != nil {
		return nil, err
	}
	if err := h.repo.Save(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// UpdateAgentDraft mutates a draft's graph/name/config in place.
type UpdateAgentDraft struct {
	AgentID      string
	Name         *string
	Graph        *agent.Graph
	MemoryConfig map[string]interface{}
	Constraints  *agent.ExecutionConstraints
}

// UpdateAgentDraftHandler handles UpdateAgentDraft.
type UpdateAgentDraftHandler struct {
	repo agent.Repository
}

func NewUpdateAgentDraftHandler(repo agent.Repository) *UpdateAgentDraftHandler {
	return &UpdateAgentDraftHandler{repo: repo}
}

func (h *UpdateAgentDraftHandler) Handle(ctx context.Context, cmd UpdateAgentDraft) (*agent.AgentDefinition, error) {
	def, err := h.repo.FindByID(ctx, cmd.AgentID)
	if err != nil {
		return nil, err
	}
	if err := def.UpdateDraft(cmd.Name, cmd.Graph, cmd.MemoryConfig, cmd.Constraints); err != nil {
		return nil, err
	}
	if err := h.repo.Update(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// PublishAgent freezes a draft so it can no longer be edited in place.
type PublishAgent struct {
	AgentID string
}

// PublishAgentHandler handles PublishAgent.
type PublishAgentHandler struct {
	repo agent.Repository
}

func NewPublishAgentHandler(repo agent.Repository) *PublishAgentHandler {
	return &PublishAgentHandler{repo: repo}
}

func (h *PublishAgentHandler) Handle(ctx context.Context, cmd PublishAgent) (*agent.AgentDefinition, error) {
	def, err := h.repo.FindByID(ctx, cmd.AgentID)
	if err != nil {
		return nil, err
	}
	if err := def.Publish(); err != nil {
		return nil, err
	}
	if err := h.repo.Update(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// CreateAgentVersion produces a new draft version from a published agent's
// graph edits, leaving the published version untouched.
type CreateAgentVersion struct {
	AgentID string
	Graph   agent.Graph
}

// CreateAgentVersionHandler handles CreateAgentVersion.
type CreateAgentVersionHandler struct {
	repo agent.Repository
}

func NewCreateAgentVersionHandler(repo agent.Repository) *CreateAgentVersionHandler {
	return &CreateAgentVersionHandler{repo: repo}
}

func (h *CreateAgentVersionHandler) Handle(ctx context.Context, cmd CreateAgentVersion) (*agent.AgentDefinition, error) {
	current, err := h.repo.FindByID(ctx, cmd.AgentID)
	if err != nil {
		return nil, err
	}
	next, err := current.NewVersion(cmd.Graph)
	if err != nil {
		return nil, err
	}
	if err := h.repo.Save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// DeprecateAgent marks a published agent version as no longer eligible for
// new runs.
type DeprecateAgent struct {
	AgentID string
}

// DeprecateAgentHandler handles DeprecateAgent.
type DeprecateAgentHandler struct {
	repo agent.Repository
}

func NewDeprecateAgentHandler(repo agent.Repository) *DeprecateAgentHandler {
	return &DeprecateAgentHandler{repo: repo}
}

func (h *DeprecateAgentHandler) Handle(ctx context.Context, cmd DeprecateAgent) error {
	def, err := h.repo.FindByID(ctx, cmd.AgentID)
	if err != nil {
		return err
	}
	if err := def.Deprecate(); err != nil {
		return err
	}
	return h.repo.Update(ctx, def)
}

// DeleteAgent removes an agent definition entirely.
type DeleteAgent struct {
	AgentID string
}

// DeleteAgentHandler handles DeleteAgent.
type DeleteAgentHandler struct {
	repo agent.Repository
}

func NewDeleteAgentHandler(repo agent.Repository) *DeleteAgentHandler {
	return &DeleteAgentHandler{repo: repo}
}

func (h *DeleteAgentHandler) Handle(ctx context.Context, cmd DeleteAgent) error {
	return h.repo.Delete(ctx, cmd.AgentID)
}
