package command

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/application/service"
)

// StartRun creates a root Run and drives it synchronously to its first
// terminal or paused status.
type StartRun struct {
	TenantID string
	AgentID  string
	Input    map[string]interface{}
}

// StartRunHandler handles StartRun.
type StartRunHandler struct {
	runs *service.RunService
}

func NewStartRunHandler(runs *service.RunService) *StartRunHandler {
	return &StartRunHandler{runs: runs}
}

func (h *StartRunHandler) Handle(ctx context.Context, cmd StartRun) (string, error) {
	r, err := h.runs.CreateRun(ctx, cmd.TenantID, cmd.AgentID, cmd.Input)
	if err != nil {
		return "", err
	}
	if err := h.runs.ExecuteRun(ctx, r.ID()); err != nil {
		return r.ID(), err
	}
	return r.ID(), nil
}

// ResumeRun submits a human-in-the-loop response to a paused run.
type ResumeRun struct {
	RunID   string
	Payload map[string]interface{}
}

// ResumeRunHandler handles ResumeRun.
type ResumeRunHandler struct {
	runs *service.RunService
}

func NewResumeRunHandler(runs *service.RunService) *ResumeRunHandler {
	return &ResumeRunHandler{runs: runs}
}

func (h *ResumeRunHandler) Handle(ctx context.Context, cmd ResumeRun) error {
	return h.runs.ResumeRun(ctx, cmd.RunID, cmd.Payload)
}

// CancelRun requests cooperative cancellation of a single run.
type CancelRun struct {
	RunID  string
	Reason string
}

// CancelRunHandler handles CancelRun.
type CancelRunHandler struct {
	runs *service.RunService
}

func NewCancelRunHandler(runs *service.RunService) *CancelRunHandler {
	return &CancelRunHandler{runs: runs}
}

func (h *CancelRunHandler) Handle(ctx context.Context, cmd CancelRun) error {
	return h.runs.CancelRun(ctx, cmd.RunID, cmd.Reason)
}
