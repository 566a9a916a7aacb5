package execution

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// ToolExecutor implements the tool node: a direct, single-call invocation
// through the Tool Invocation Layer (retry, circuit breaker, schema
// validation all happen beneath ExecutionContext.InvokeTool) — distinct
// from agent/llm's model-driven tool dispatch loop.
type ToolExecutor struct{}

func (e *ToolExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	if execCtx == nil || execCtx.InvokeTool == nil {
		return nil, errors.InvalidState("tool", "tool invocation layer not wired into execution context")
	}

	toolName, _ := config["tool"].(string)
	if toolName == "" {
		return nil, errors.InvalidInput("tool", "tool name is required")
	}

	mapping, _ := config["input"].(map[string]interface{})
	input := make(map[string]interface{}, len(mapping))
	for k, path := range mapping {
		if pathStr, ok := path.(string); ok {
			input[k] = resolvePath(state, pathStr)
		} else {
			input[k] = path
		}
	}

	if execCtx.Emitter != nil {
		execCtx.Emitter.EmitToolStart(nodeID, toolName, input)
	}

	result, err := execCtx.InvokeTool(ctx, toolName, input)

	if err != nil {
		if execCtx.Emitter != nil {
			execCtx.Emitter.EmitToolEnd(nodeID, toolName, nil, 0, err)
		}
		return nil, err
	}

	if execCtx.Emitter != nil {
		execCtx.Emitter.EmitToolEnd(nodeID, toolName, result.Payload(), result.AttemptCount, nil)
	}

	// A continue-policy failure flows into the graph as the node's output
	// so downstream branches can route on it.
	return &execution.Delta{Output: result.Payload()}, nil
}
