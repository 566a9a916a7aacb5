package execution

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// HumanInputExecutor implements human_input: a member of the interrupt set,
// so the Engine never actually calls Execute for it on a fresh visit — it
// pauses before invoking the executor. Execute only runs on resume, when
// the Engine re-enters at this node with the resume payload already merged
// into state by the caller; this executor just folds the payload into a
// node output and lets the run proceed.
type HumanInputExecutor struct{}

func (e *HumanInputExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	resumeKey, _ := config["resume_key"].(string)
	if resumeKey == "" {
		resumeKey = "human_input"
	}
	payload := state.Vars[resumeKey]
	return &execution.Delta{Output: payload}, nil
}

// UserApprovalExecutor implements user_approval: also in the interrupt set.
// On resume it reads the approval decision and branches "approved" /
// "rejected".
type UserApprovalExecutor struct{}

func (e *UserApprovalExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	resumeKey, _ := config["resume_key"].(string)
	if resumeKey == "" {
		resumeKey = "approval"
	}

	approved := false
	if v, ok := state.Vars[resumeKey].(string); ok {
		approved = v == "approve" || v == "approved"
	} else if v, ok := state.Vars[resumeKey].(bool); ok {
		approved = v
	}

	branch := "rejected"
	if approved {
		branch = "approved"
	}

	return &execution.Delta{Output: approved, BranchTaken: branch}, nil
}
