package handlers

import (
	"net/http"
	"strconv"

	"github.com/agentkernel/agentkernel/internal/application/command"
	"github.com/agentkernel/agentkernel/internal/application/query"
	"github.com/agentkernel/agentkernel/internal/application/service"
	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/infrastructure/http/dto"
	"github.com/labstack/echo/v4"
)

// RunHandler implements the Runtime API's run surface (SPEC_FULL.md §6):
// start_run, run_and_stream, resume_run, cancel_run and the read-model
// queries over the Run aggregate.
type RunHandler struct {
	startRun    *command.StartRunHandler
	resumeRun   *command.ResumeRunHandler
	cancelRun   *command.CancelRunHandler
	getRun      *query.GetRunHandler
	listByAgent *query.ListRunsByAgentHandler
	listByStat  *query.ListRunsByStatusHandler
	getChildren *query.GetRunChildrenHandler
	runs        *service.RunService
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(
	startRun *command.StartRunHandler,
	resumeRun *command.ResumeRunHandler,
	cancelRun *command.CancelRunHandler,
	getRun *query.GetRunHandler,
	listByAgent *query.ListRunsByAgentHandler,
	listByStat *query.ListRunsByStatusHandler,
	getChildren *query.GetRunChildrenHandler,
	runs *service.RunService,
) *RunHandler {
	return &RunHandler{
		startRun:    startRun,
		resumeRun:   resumeRun,
		cancelRun:   cancelRun,
		getRun:      getRun,
		listByAgent: listByAgent,
		listByStat:  listByStat,
		getChildren: getChildren,
		runs:        runs,
	}
}

// StartRun handles POST /runs: creates a root Run and, unless stream=true,
// drives it synchronously to its first terminal or paused status.
func (h *RunHandler) StartRun(c echo.Context) error {
	var req dto.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}
	if req.AgentID == "" {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "agent_id is required"})
	}

	if req.Stream {
		r, err := h.runs.CreateRun(c.Request().Context(), req.TenantID, req.AgentID, req.Input)
		if err != nil {
			return err
		}
		h.runs.RunAndStream(c.Request().Context(), r.ID())
		return c.JSON(http.StatusAccepted, dto.RunResponse{RunID: r.ID(), TenantID: r.TenantID(), AgentID: r.AgentID(), Status: string(r.Status())})
	}

	runID, err := h.startRun.Handle(c.Request().Context(), command.StartRun{TenantID: req.TenantID, AgentID: req.AgentID, Input: req.Input})
	if err != nil && runID == "" {
		return err
	}

	r, getErr := h.getRun.Handle(c.Request().Context(), query.GetRun{RunID: runID})
	if getErr != nil {
		return getErr
	}
	return c.JSON(http.StatusOK, toRunResponse(r))
}

// GetRun handles GET /runs/:run_id.
func (h *RunHandler) GetRun(c echo.Context) error {
	r, err := h.getRun.Handle(c.Request().Context(), query.GetRun{RunID: c.Param("run_id")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRunResponse(r))
}

// ListRunsByAgent handles GET /agents/:agent_id/runs.
func (h *RunHandler) ListRunsByAgent(c echo.Context) error {
	limit, offset := pagingParams(c)
	runs, err := h.listByAgent.Handle(c.Request().Context(), query.ListRunsByAgent{AgentID: c.Param("agent_id"), Limit: limit, Offset: offset})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.ListRunsResponse{Runs: toRunResponses(runs)})
}

// ListRunsByStatus handles GET /runs?status=paused.
func (h *RunHandler) ListRunsByStatus(c echo.Context) error {
	limit, offset := pagingParams(c)
	status := run.Status(c.QueryParam("status"))
	runs, err := h.listByStat.Handle(c.Request().Context(), query.ListRunsByStatus{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.ListRunsResponse{Runs: toRunResponses(runs)})
}

// GetRunChildren handles GET /runs/:run_id/children — the Lineage view
// over a run's direct spawn_run/spawn_group descendants.
func (h *RunHandler) GetRunChildren(c echo.Context) error {
	children, err := h.getChildren.Handle(c.Request().Context(), query.GetRunChildren{RunID: c.Param("run_id")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.ListRunsResponse{Runs: toRunResponses(children)})
}

// ResumeRun handles POST /runs/:run_id/resume — a human-in-the-loop
// response to a paused run (tool outputs or a plain payload).
func (h *RunHandler) ResumeRun(c echo.Context) error {
	runID := c.Param("run_id")

	var req dto.ResumeRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	payload := req.Payload
	if payload == nil {
		payload = make(map[string]interface{})
	}
	if len(req.ToolOutputs) > 0 {
		payload["tool_outputs"] = req.ToolOutputs
	}

	if err := h.resumeRun.Handle(c.Request().Context(), command.ResumeRun{RunID: runID, Payload: payload}); err != nil {
		return err
	}

	r, err := h.getRun.Handle(c.Request().Context(), query.GetRun{RunID: runID})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRunResponse(r))
}

// CancelRun handles POST /runs/:run_id/cancel — cooperative cancellation of
// a single run (not its subtree; see OrchestrationHandler.CancelSubtree).
func (h *RunHandler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")

	var req dto.CancelRunRequest
	_ = c.Bind(&req)

	if err := h.cancelRun.Handle(c.Request().Context(), command.CancelRun{RunID: runID, Reason: req.Reason}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"run_id": runID, "status": "cancelling"})
}

func pagingParams(c echo.Context) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func toRunResponse(r *run.Run) dto.RunResponse {
	return dto.RunResponse{
		RunID:                r.ID(),
		TenantID:             r.TenantID(),
		AgentID:              r.AgentID(),
		AgentVersion:         r.AgentVersion(),
		Status:               string(r.Status()),
		Input:                r.Input(),
		Output:               r.OutputResult(),
		Error:                r.ErrorMessage(),
		RootRunID:            r.RootRunID(),
		ParentRunID:          r.ParentRunID(),
		Depth:                r.Depth(),
		OrchestrationGroupID: r.OrchestrationGroupID(),
		CreatedAt:            r.CreatedAt(),
		StartedAt:            r.StartedAt(),
		CompletedAt:          r.CompletedAt(),
		UpdatedAt:            r.UpdatedAt(),
	}
}

func toRunResponses(runs []*run.Run) []dto.RunResponse {
	out := make([]dto.RunResponse, len(runs))
	for i, r := range runs {
		out[i] = toRunResponse(r)
	}
	return out
}
