package execution

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// SpawnRunExecutor implements spawn_run: delegates to the Orchestration
// Kernel via ExecutionContext.SpawnRun, which enforces (parent_run_id,
// spawn_key) idempotency and delegation-grant scope subsetting
// (SPEC_FULL.md §4.7).
type SpawnRunExecutor struct{}

func (e *SpawnRunExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	if execCtx == nil || execCtx.SpawnRun == nil {
		return nil, errors.InvalidState("spawn_run", "orchestration kernel not wired into execution context")
	}

	agentID, _ := config["agent_id"].(string)
	spawnKey, _ := config["spawn_key"].(string)
	if spawnKey == "" {
		spawnKey = nodeID
	}

	inputMapping, _ := config["input"].(map[string]interface{})
	input := make(map[string]interface{}, len(inputMapping))
	for k, path := range inputMapping {
		if pathStr, ok := path.(string); ok {
			input[k] = resolvePath(state, pathStr)
		} else {
			input[k] = path
		}
	}

	var scopes []string
	if raw, ok := config["scopes"].([]interface{}); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	childRunID, err := execCtx.SpawnRun(ctx, execution.SpawnRunRequest{
		AgentID:         agentID,
		Input:           input,
		SpawnKey:        spawnKey,
		RequestedScopes: scopes,
	})
	if err != nil {
		return nil, err
	}

	return &execution.Delta{Output: map[string]interface{}{"run_id": childRunID}}, nil
}

// SpawnGroupExecutor implements spawn_group: fans out a batch of spawn_run
// requests under a shared join policy (SPEC_FULL.md §4.7).
type SpawnGroupExecutor struct{}

func (e *SpawnGroupExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	if execCtx == nil || execCtx.SpawnGroup == nil {
		return nil, errors.InvalidState("spawn_group", "orchestration kernel not wired into execution context")
	}

	membersCfg, _ := config["members"].([]interface{})
	members := make([]execution.SpawnRunRequest, 0, len(membersCfg))
	for i, raw := range membersCfg {
		m, _ := raw.(map[string]interface{})
		agentID, _ := m["agent_id"].(string)
		inputMapping, _ := m["input"].(map[string]interface{})
		input := make(map[string]interface{}, len(inputMapping))
		for k, path := range inputMapping {
			if pathStr, ok := path.(string); ok {
				input[k] = resolvePath(state, pathStr)
			} else {
				input[k] = path
			}
		}
		spawnKey, _ := m["spawn_key"].(string)
		if spawnKey == "" {
			spawnKey = toString(i)
		}
		members = append(members, execution.SpawnRunRequest{AgentID: agentID, Input: input, SpawnKey: nodeID + ":" + spawnKey})
	}

	joinMode, _ := config["join_mode"].(string)
	failurePolicy, _ := config["failure_policy"].(string)
	quorum := 0
	if v, ok := config["quorum_threshold"].(float64); ok {
		quorum = int(v)
	}
	timeout := 0
	if v, ok := config["timeout_s"].(float64); ok {
		timeout = int(v)
	}

	groupID, err := execCtx.SpawnGroup(ctx, execution.SpawnGroupRequest{
		Members:         members,
		JoinMode:        joinMode,
		QuorumThreshold: quorum,
		FailurePolicy:   failurePolicy,
		TimeoutSeconds:  timeout,
	})
	if err != nil {
		return nil, err
	}

	return &execution.Delta{Output: map[string]interface{}{"group_id": groupID}}, nil
}

// JoinExecutor implements join: blocks (from the node's perspective) until
// the group's join policy is satisfied, delegating the wait/aggregation
// logic entirely to the kernel.
type JoinExecutor struct{}

func (e *JoinExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	if execCtx == nil || execCtx.Join == nil {
		return nil, errors.InvalidState("join", "orchestration kernel not wired into execution context")
	}

	groupIDPath, _ := config["group_id"].(string)
	groupID := toString(resolvePath(state, groupIDPath))
	if groupID == "" {
		if v, ok := config["group_id"].(string); ok {
			groupID = v
		}
	}

	result, err := execCtx.Join(ctx, groupID)
	if err != nil {
		return nil, err
	}

	return &execution.Delta{Output: result}, nil
}

// ReplanExecutor implements replan: asks the kernel's evaluate_and_replan
// for a verdict over the run's children ({needs_replan, failed_children,
// suggested_action}) and surfaces it as the node output, branching on the
// suggested action so a graph can wire "replan" and "continue" paths.
type ReplanExecutor struct{}

func (e *ReplanExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	if execCtx == nil || execCtx.Replan == nil {
		return nil, errors.InvalidState("replan", "orchestration kernel not wired into execution context")
	}

	targetRunID := toString(resolvePath(state, toString(config["run_id"])))
	if targetRunID == "" {
		targetRunID = execCtx.RunID
	}

	verdict, err := execCtx.Replan(ctx, targetRunID)
	if err != nil {
		return nil, err
	}

	branch, _ := verdict["suggested_action"].(string)
	return &execution.Delta{
		Context:     map[string]interface{}{nodeID: verdict},
		Output:      verdict,
		BranchTaken: branch,
	}, nil
}

// CancelSubtreeExecutor implements cancel_subtree: BFS-cancels every
// descendant run of a given root, delegated to the kernel.
type CancelSubtreeExecutor struct{}

func (e *CancelSubtreeExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	if execCtx == nil || execCtx.CancelSubtree == nil {
		return nil, errors.InvalidState("cancel_subtree", "orchestration kernel not wired into execution context")
	}

	targetPath, _ := config["run_id"].(string)
	targetRunID := toString(resolvePath(state, targetPath))
	if targetRunID == "" {
		targetRunID = execCtx.RunID
	}

	includeRoot, _ := config["include_root"].(bool)
	reason, _ := config["reason"].(string)

	if err := execCtx.CancelSubtree(ctx, targetRunID, includeRoot, reason); err != nil {
		return nil, err
	}

	return &execution.Delta{Output: map[string]interface{}{"cancelled_run_id": targetRunID}}, nil
}
