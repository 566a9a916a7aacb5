package handlers

import (
	"net/http"

	orchapp "github.com/agentkernel/agentkernel/internal/application/orchestration"
	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/http/dto"
	"github.com/labstack/echo/v4"
)

// OrchestrationHandler exposes the Orchestration Kernel's spawn_run,
// spawn_group, join and cancel_subtree operations directly over HTTP
// (SPEC_FULL.md §4.7, §6), for callers driving orchestration outside of a
// graph node — tooling, tests, or a client that wants to fan out without
// authoring a spawn_run node.
type OrchestrationHandler struct {
	kernel   *orchapp.Kernel
	tenantID func(c echo.Context) string
}

// NewOrchestrationHandler creates a new OrchestrationHandler. tenantResolver
// extracts the tenant id for a request (header, auth claim, or query param
// depending on deployment); RunHandler's callers already assume a
// tenant_id on the body for StartRun, so this mirrors that convention by
// default when tenantResolver is nil.
func NewOrchestrationHandler(kernel *orchapp.Kernel, tenantResolver func(c echo.Context) string) *OrchestrationHandler {
	if tenantResolver == nil {
		tenantResolver = func(c echo.Context) string { return c.QueryParam("tenant_id") }
	}
	return &OrchestrationHandler{kernel: kernel, tenantID: tenantResolver}
}

// SpawnRun handles POST /runs/:run_id/spawn — spawns a child run under the
// given parent, scope-checked against the parent's DelegationGrant.
func (h *OrchestrationHandler) SpawnRun(c echo.Context) error {
	parentRunID := c.Param("run_id")

	var req dto.SpawnRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	childRunID, err := h.kernel.SpawnRun(c.Request().Context(), h.tenantID(c), parentRunID, 0, execution.SpawnRunRequest{
		AgentID:         req.AgentID,
		Input:           req.Input,
		SpawnKey:        req.SpawnKey,
		RequestedScopes: req.RequestedScopes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, dto.SpawnResponse{RunID: childRunID})
}

// SpawnGroup handles POST /runs/:run_id/spawn-group — spawns a fan-out
// group of children under the given parent.
func (h *OrchestrationHandler) SpawnGroup(c echo.Context) error {
	parentRunID := c.Param("run_id")

	var req dto.SpawnGroupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	members := make([]execution.SpawnRunRequest, len(req.Members))
	for i, m := range req.Members {
		members[i] = execution.SpawnRunRequest{
			AgentID:         m.AgentID,
			Input:           m.Input,
			SpawnKey:        m.SpawnKey,
			RequestedScopes: m.RequestedScopes,
		}
	}

	groupID, err := h.kernel.SpawnGroup(c.Request().Context(), h.tenantID(c), parentRunID, 0, execution.SpawnGroupRequest{
		Members:         members,
		JoinMode:        req.JoinMode,
		QuorumThreshold: req.QuorumThreshold,
		FailurePolicy:   req.FailurePolicy,
		TimeoutSeconds:  req.TimeoutSeconds,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, dto.SpawnResponse{GroupID: groupID})
}

// Join handles POST /groups/:group_id/join — blocks until the group's join
// policy is satisfied (or its timeout elapses) and returns the aggregated
// per-member result.
func (h *OrchestrationHandler) Join(c echo.Context) error {
	groupID := c.Param("group_id")

	result, err := h.kernel.Join(c.Request().Context(), groupID)
	if err != nil {
		return err
	}

	status, _ := result["status"].(string)
	members, _ := result["members"].(map[string]interface{})
	return c.JSON(http.StatusOK, dto.JoinResponse{GroupID: groupID, Status: status, Members: members})
}

// CancelSubtree handles POST /runs/:run_id/cancel-subtree — cooperative
// BFS cancellation of a run's descendants (and optionally the run itself).
func (h *OrchestrationHandler) CancelSubtree(c echo.Context) error {
	runID := c.Param("run_id")

	var req dto.CancelSubtreeRequest
	_ = c.Bind(&req)

	if err := h.kernel.CancelSubtree(c.Request().Context(), runID, req.IncludeRoot, req.Reason); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"run_id": runID, "status": "cancelling"})
}
