package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/agentkernel/agentkernel/internal/domain/checkpoint"
	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

const maxStepsPerRun = 10000

// CheckpointWriter is the narrow slice of checkpoint.Repository the Engine
// needs: write a snapshot at every node boundary so a crash or pause can
// resume from the last completed node (SPEC_FULL.md §4.3).
type CheckpointWriter interface {
	Save(ctx context.Context, cp *checkpoint.Checkpoint) error
}

// Engine drives an ExecutableWorkflow for one Run: cooperative
// single-threaded-per-run scheduling, checkpoint-at-node-boundary,
// interrupt pause/resume, cooperative cancellation, and the node_start/
// node_end/run_status event emission ordering fixed by SPEC_FULL.md §4.3.
type Engine struct {
	registry    *execution.Registry
	checkpoints CheckpointWriter
}

// NewEngine creates an Engine with the given node executor registry and
// checkpoint writer.
func NewEngine(registry *execution.Registry, checkpoints CheckpointWriter) *Engine {
	return &Engine{registry: registry, checkpoints: checkpoints}
}

// Run drives wf from resumeFromNode (or wf.EntryNode on a fresh run) until
// it reaches a terminal status or an interrupt node pauses it.
func (e *Engine) Run(ctx context.Context, runID string, wf *execution.ExecutableWorkflow, state *execution.State, resumeFromNode string) (*execution.RunResult, error) {
	execCtx, _ := ctx.Value(execCtxKey{}).(*execution.ExecutionContext)
	if execCtx == nil {
		execCtx = &execution.ExecutionContext{RunID: runID, IsCancelled: func() bool { return false }}
	}

	current := resumeFromNode
	resuming := resumeFromNode != ""
	if current == "" {
		current = wf.EntryNode
	}
	if current == "" {
		return nil, errors.InvalidInput("graph", "compiled workflow has no entry node")
	}

	cur := state
	steps := 0

	for {
		if execCtx.IsCancelled != nil && execCtx.IsCancelled() {
			e.checkpointAt(ctx, runID, current, cur)
			e.emitRunStatus(execCtx, runID, "cancelled", nil)
			return &execution.RunResult{Status: "cancelled", FinalState: cur, PausedAt: current}, nil
		}

		steps++
		if steps > maxStepsPerRun {
			return nil, errors.NewDomainError("MAX_STEPS_EXCEEDED", fmt.Sprintf("run exceeded %d steps", maxStepsPerRun), nil)
		}

		node, ok := wf.Nodes[current]
		if !ok {
			err := errors.NotFound("node", current)
			e.emitError(execCtx, runID, err)
			e.emitRunStatus(execCtx, runID, "failed", map[string]interface{}{"error": err.Error()})
			return nil, err
		}

		// An interrupt node pauses the run the first time it is reached.
		// When resume(run_id, payload) re-enters the Engine at exactly this
		// node (the resume payload already merged into cur by the caller),
		// the node executes instead of re-pausing — resuming is true for
		// only this first loop iteration, so a while/if_else branch that
		// later routes back to the same interrupt node still pauses again.
		if wf.InterruptSet[current] && !resuming {
			e.emitNodeStart(execCtx, runID, current, string(node.Type))
			e.checkpointAt(ctx, runID, current, cur)
			e.emitRunStatus(execCtx, runID, "paused", map[string]interface{}{"node_id": current})
			return &execution.RunResult{Status: "paused", PausedAt: current, PausedNodeType: string(node.Type), FinalState: cur}, nil
		}
		resuming = false

		executor, ok := e.registry.Resolve(string(node.Type))
		if !ok {
			err := errors.NewDomainError("NO_EXECUTOR", fmt.Sprintf("no executor registered for node type %q", node.Type), nil)
			e.emitError(execCtx, runID, err)
			e.emitRunStatus(execCtx, runID, "failed", map[string]interface{}{"error": err.Error()})
			return nil, err
		}

		e.emitNodeStart(execCtx, runID, current, string(node.Type))
		start := time.Now()

		delta, err := executor.Execute(ctx, current, cur, node.Config, execCtx)
		if err != nil {
			e.emitError(execCtx, runID, err)
			e.checkpointAt(ctx, runID, current, cur)
			e.emitRunStatus(execCtx, runID, "failed", map[string]interface{}{"error": err.Error(), "node_id": current})
			return &execution.RunResult{Status: "failed", ErrorMsg: err.Error(), FinalState: cur, PausedAt: current}, nil
		}
		if delta == nil {
			delta = &execution.Delta{}
		}
		if delta.Err != nil {
			e.emitError(execCtx, runID, delta.Err)
			e.checkpointAt(ctx, runID, current, cur)
			e.emitRunStatus(execCtx, runID, "failed", map[string]interface{}{"error": delta.Err.Error(), "node_id": current})
			return &execution.RunResult{Status: "failed", ErrorMsg: delta.Err.Error(), FinalState: cur, PausedAt: current}, nil
		}

		cur = execution.Merge(cur, current, delta)

		e.emitNodeEnd(execCtx, runID, current, string(node.Type), time.Since(start))
		e.checkpointAt(ctx, runID, current, cur)

		if node.Type == "end" || delta.FinalOutput != nil {
			output := delta.FinalOutput
			if output == nil {
				output = cur.Vars
			}
			e.emitRunStatus(execCtx, runID, "completed", map[string]interface{}{"final_output": output})
			return &execution.RunResult{Status: "completed", FinalOutput: output, FinalState: cur}, nil
		}

		next, err := e.nextNode(wf, current, delta)
		if err != nil {
			e.emitError(execCtx, runID, err)
			e.emitRunStatus(execCtx, runID, "failed", map[string]interface{}{"error": err.Error(), "node_id": current})
			return &execution.RunResult{Status: "failed", ErrorMsg: err.Error(), FinalState: cur, PausedAt: current}, nil
		}
		current = next
	}
}

// nextNode resolves the single outgoing edge to follow: an explicit
// delta.Next wins; otherwise the branch named in delta.BranchTaken (for
// if_else/classify/router/while) selects among source_handle-scoped edges;
// with no branch, all unscoped edges fire but only the first is followed
// sequentially — fan-out/join is the province of spawn_group, not plain
// edges.
func (e *Engine) nextNode(wf *execution.ExecutableWorkflow, nodeID string, delta *execution.Delta) (string, error) {
	if delta.Next != "" {
		return delta.Next, nil
	}

	edges := EdgesForHandle(wf, nodeID, delta.BranchTaken)
	if len(edges) == 0 {
		return "", errors.InvalidState(nodeID, fmt.Sprintf("no outgoing edge for node %q (branch=%q)", nodeID, delta.BranchTaken))
	}
	return edges[0].Target, nil
}

func (e *Engine) checkpointAt(ctx context.Context, runID, nodeID string, state *execution.State) {
	if e.checkpoints == nil {
		return
	}
	values := stateToMap(state)
	values["__last_node"] = nodeID
	cp, err := checkpoint.NewCheckpoint(runID, "", "", "", values)
	if err != nil {
		return
	}
	_ = e.checkpoints.Save(ctx, cp)
}

func stateToMap(s *execution.State) map[string]interface{} {
	return map[string]interface{}{
		"messages":     s.Messages,
		"context":      s.Context,
		"_node_outputs": s.NodeOutputs,
		"state":        s.Vars,
		"last_agent_output": s.LastAgentOutput,
	}
}

func (e *Engine) emitNodeStart(execCtx *execution.ExecutionContext, runID, nodeID, nodeType string) {
	if execCtx.Emitter == nil {
		return
	}
	execCtx.Emitter.Emit(execution.NewExecutionEvent(execution.KindNodeStart, runID, map[string]interface{}{
		"node_id": nodeID, "node_type": nodeType,
	}))
}

func (e *Engine) emitNodeEnd(execCtx *execution.ExecutionContext, runID, nodeID, nodeType string, dur time.Duration) {
	if execCtx.Emitter == nil {
		return
	}
	execCtx.Emitter.Emit(execution.NewExecutionEvent(execution.KindNodeEnd, runID, map[string]interface{}{
		"node_id": nodeID, "node_type": nodeType, "duration_ms": dur.Milliseconds(),
	}))
}

func (e *Engine) emitRunStatus(execCtx *execution.ExecutionContext, runID, status string, extra map[string]interface{}) {
	if execCtx.Emitter == nil {
		return
	}
	data := map[string]interface{}{"status": status}
	for k, v := range extra {
		data[k] = v
	}
	execCtx.Emitter.Emit(execution.NewExecutionEvent(execution.KindRunStatus, runID, data))
}

func (e *Engine) emitError(execCtx *execution.ExecutionContext, runID string, err error) {
	if execCtx.Emitter == nil {
		return
	}
	execCtx.Emitter.EmitError("", err)
}

// execCtxKey is the context key an application-layer caller uses to thread
// an *execution.ExecutionContext through ctx (the Engine interface itself
// stays context.Context-shaped per the teacher's convention; the
// ExecutionContext augments it with ambient handles executors need).
type execCtxKey struct{}

// WithExecutionContext attaches an ExecutionContext to ctx for Engine.Run
// to pick up.
func WithExecutionContext(ctx context.Context, ec *execution.ExecutionContext) context.Context {
	return context.WithValue(ctx, execCtxKey{}, ec)
}
