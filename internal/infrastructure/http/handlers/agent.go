package handlers

import (
	"net/http"

	"github.com/agentkernel/agentkernel/internal/application/command"
	"github.com/agentkernel/agentkernel/internal/application/query"
	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/agentkernel/agentkernel/internal/infrastructure/http/dto"
	"github.com/labstack/echo/v4"
)

// AgentHandler implements the AgentStore's write/read surface over HTTP
// (SPEC_FULL.md §6): create/update/publish/version/deprecate/delete an
// AgentDefinition, plus the read-model queries a graph-authoring UI or a
// run-starting client needs.
type AgentHandler struct {
	create        *command.CreateAgentHandler
	updateDraft   *command.UpdateAgentDraftHandler
	publish       *command.PublishAgentHandler
	createVersion *command.CreateAgentVersionHandler
	deprecate     *command.DeprecateAgentHandler
	deleteAgent   *command.DeleteAgentHandler
	get           *query.GetAgentHandler
	getBySlug     *query.GetAgentBySlugHandler
	getVersions   *query.GetAgentVersionsHandler
	list          *query.ListAgentsHandler
	search        *query.SearchAgentsHandler
	count         *query.CountAgentsHandler
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(
	create *command.CreateAgentHandler,
	updateDraft *command.UpdateAgentDraftHandler,
	publish *command.PublishAgentHandler,
	createVersion *command.CreateAgentVersionHandler,
	deprecate *command.DeprecateAgentHandler,
	deleteAgent *command.DeleteAgentHandler,
	get *query.GetAgentHandler,
	getBySlug *query.GetAgentBySlugHandler,
	getVersions *query.GetAgentVersionsHandler,
	list *query.ListAgentsHandler,
	search *query.SearchAgentsHandler,
	count *query.CountAgentsHandler,
) *AgentHandler {
	return &AgentHandler{
		create:        create,
		updateDraft:   updateDraft,
		publish:       publish,
		createVersion: createVersion,
		deprecate:     deprecate,
		deleteAgent:   deleteAgent,
		get:           get,
		getBySlug:     getBySlug,
		getVersions:   getVersions,
		list:          list,
		search:        search,
		count:         count,
	}
}

// CreateAgent handles POST /agents.
func (h *AgentHandler) CreateAgent(c echo.Context) error {
	var req dto.CreateAgentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	def, err := h.create.Handle(c.Request().Context(), command.CreateAgent{
		TenantID:     req.TenantID,
		Slug:         req.Slug,
		Name:         req.Name,
		Graph:        fromGraphDTO(req.Graph),
		MemoryConfig: req.MemoryConfig,
		Constraints:  fromConstraintsDTO(req.Constraints),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toAgentResponse(def))
}

// UpdateAgentDraft handles PATCH /agents/:agent_id.
func (h *AgentHandler) UpdateAgentDraft(c echo.Context) error {
	var req dto.UpdateAgentDraftRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	var graph *agent.Graph
	if req.Graph != nil {
		g := fromGraphDTO(*req.Graph)
		graph = &g
	}
	var constraints *agent.ExecutionConstraints
	if req.Constraints != nil {
		cn := fromConstraintsDTO(*req.Constraints)
		constraints = &cn
	}

	def, err := h.updateDraft.Handle(c.Request().Context(), command.UpdateAgentDraft{
		AgentID:      c.Param("agent_id"),
		Name:         req.Name,
		Graph:        graph,
		MemoryConfig: req.MemoryConfig,
		Constraints:  constraints,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAgentResponse(def))
}

// PublishAgent handles POST /agents/:agent_id/publish.
func (h *AgentHandler) PublishAgent(c echo.Context) error {
	def, err := h.publish.Handle(c.Request().Context(), command.PublishAgent{AgentID: c.Param("agent_id")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAgentResponse(def))
}

// CreateAgentVersion handles POST /agents/:agent_id/versions.
func (h *AgentHandler) CreateAgentVersion(c echo.Context) error {
	var req dto.CreateAgentVersionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	def, err := h.createVersion.Handle(c.Request().Context(), command.CreateAgentVersion{
		AgentID: c.Param("agent_id"),
		Graph:   fromGraphDTO(req.Graph),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toAgentResponse(def))
}

// DeprecateAgent handles POST /agents/:agent_id/deprecate.
func (h *AgentHandler) DeprecateAgent(c echo.Context) error {
	if err := h.deprecate.Handle(c.Request().Context(), command.DeprecateAgent{AgentID: c.Param("agent_id")}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"agent_id": c.Param("agent_id"), "status": "deprecated"})
}

// DeleteAgent handles DELETE /agents/:agent_id.
func (h *AgentHandler) DeleteAgent(c echo.Context) error {
	if err := h.deleteAgent.Handle(c.Request().Context(), command.DeleteAgent{AgentID: c.Param("agent_id")}); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// GetAgent handles GET /agents/:agent_id?version=3.
func (h *AgentHandler) GetAgent(c echo.Context) error {
	def, err := h.get.Handle(c.Request().Context(), query.GetAgent{AgentID: c.Param("agent_id"), Version: c.QueryParam("version")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAgentResponse(def))
}

// GetAgentBySlug handles GET /agents/by-slug/:slug?tenant_id=xxx.
func (h *AgentHandler) GetAgentBySlug(c echo.Context) error {
	def, err := h.getBySlug.Handle(c.Request().Context(), query.GetAgentBySlug{TenantID: c.QueryParam("tenant_id"), Slug: c.Param("slug")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAgentResponse(def))
}

// GetAgentVersions handles GET /agents/:agent_id/versions.
func (h *AgentHandler) GetAgentVersions(c echo.Context) error {
	defs, err := h.getVersions.Handle(c.Request().Context(), query.GetAgentVersions{AgentID: c.Param("agent_id")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: toAgentResponses(defs)})
}

// ListAgents handles GET /agents?tenant_id=xxx&limit=20&offset=0.
func (h *AgentHandler) ListAgents(c echo.Context) error {
	limit, offset := pagingParams(c)
	if q := c.QueryParam("q"); q != "" {
		defs, err := h.search.Handle(c.Request().Context(), query.SearchAgents{TenantID: c.QueryParam("tenant_id"), Query: q, Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: toAgentResponses(defs)})
	}

	defs, err := h.list.Handle(c.Request().Context(), query.ListAgents{TenantID: c.QueryParam("tenant_id"), Limit: limit, Offset: offset})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: toAgentResponses(defs)})
}

// CountAgents handles GET /agents/count?tenant_id=xxx.
func (h *AgentHandler) CountAgents(c echo.Context) error {
	n, err := h.count.Handle(c.Request().Context(), query.CountAgents{TenantID: c.QueryParam("tenant_id")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func fromGraphDTO(g dto.GraphDTO) agent.Graph {
	nodes := make([]agent.Node, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = agent.Node{
			ID:            n.ID,
			Type:          agent.NodeType(n.Type),
			Position:      n.Position,
			Config:        n.Config,
			InputMappings: n.InputMappings,
		}
	}
	edges := make([]agent.Edge, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = agent.Edge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		}
	}
	return agent.Graph{SpecVersion: g.SpecVersion, Nodes: nodes, Edges: edges}
}

func toGraphDTO(g agent.Graph) dto.GraphDTO {
	nodes := make([]dto.NodeDTO, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = dto.NodeDTO{
			ID:            n.ID,
			Type:          string(n.Type),
			Position:      n.Position,
			Config:        n.Config,
			InputMappings: n.InputMappings,
		}
	}
	edges := make([]dto.EdgeDTO, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = dto.EdgeDTO{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		}
	}
	return dto.GraphDTO{SpecVersion: g.SpecVersion, Nodes: nodes, Edges: edges}
}

func fromConstraintsDTO(c dto.ExecutionConstraints) agent.ExecutionConstraints {
	return agent.ExecutionConstraints{
		TimeoutSeconds:        c.TimeoutSeconds,
		MaxChildrenPerParent:  c.MaxChildrenPerParent,
		MaxSubtreeDepth:       c.MaxSubtreeDepth,
		MaxConcurrentChildren: c.MaxConcurrentChildren,
	}
}

func toConstraintsDTO(c agent.ExecutionConstraints) dto.ExecutionConstraints {
	return dto.ExecutionConstraints{
		TimeoutSeconds:        c.TimeoutSeconds,
		MaxChildrenPerParent:  c.MaxChildrenPerParent,
		MaxSubtreeDepth:       c.MaxSubtreeDepth,
		MaxConcurrentChildren: c.MaxConcurrentChildren,
	}
}

func toAgentResponse(def *agent.AgentDefinition) dto.AgentResponse {
	return dto.AgentResponse{
		AgentID:      def.ID(),
		TenantID:     def.TenantID(),
		Slug:         def.Slug(),
		Name:         def.Name(),
		Version:      def.Version(),
		Status:       string(def.Status()),
		Graph:        toGraphDTO(def.Graph()),
		MemoryConfig: def.MemoryConfig(),
		Constraints:  toConstraintsDTO(def.ExecutionConstraints()),
		CreatedAt:    def.CreatedAt(),
		UpdatedAt:    def.UpdatedAt(),
	}
}

func toAgentResponses(defs []*agent.AgentDefinition) []dto.AgentResponse {
	out := make([]dto.AgentResponse, len(defs))
	for i, def := range defs {
		out[i] = toAgentResponse(def)
	}
	return out
}
