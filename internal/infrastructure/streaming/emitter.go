package streaming

import (
	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// Emitter is the fire-and-forget API executors call to push token deltas,
// tool lifecycle events, and errors without blocking on the Engine's own
// node_start/node_end bracketing (SPEC_FULL.md §4.4). Grounded on the
// original EventEmitter class: emit_token, emit_tool_start/end, emit_error,
// plus the orchestration-lifecycle emit methods.
type Emitter struct {
	queue *BoundedQueue
}

// NewEmitter wraps a BoundedQueue as an execution.Emitter.
func NewEmitter(queue *BoundedQueue) *Emitter {
	return &Emitter{queue: queue}
}

func (e *Emitter) EmitToken(content, nodeID, spanID string) {
	e.queue.Push(execution.NewExecutionEvent(execution.KindToken, e.queue.runID, map[string]interface{}{
		"content": content, "node_id": nodeID,
	}).WithSpan(spanID))
}

func (e *Emitter) EmitToolStart(nodeID, toolName string, input map[string]interface{}) {
	e.queue.Push(execution.NewExecutionEvent(execution.KindOnToolStart, e.queue.runID, map[string]interface{}{
		"node_id": nodeID, "tool": toolName, "input": input,
	}))
}

func (e *Emitter) EmitToolEnd(nodeID, toolName string, output map[string]interface{}, attemptCount int, err error) {
	data := map[string]interface{}{"node_id": nodeID, "tool": toolName, "output": output}
	if attemptCount > 0 {
		data["attempt_count"] = attemptCount
	}
	if err != nil {
		data["error"] = err.Error()
	}
	e.queue.Push(execution.NewExecutionEvent(execution.KindOnToolEnd, e.queue.runID, data))
}

func (e *Emitter) EmitError(nodeID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.queue.Push(execution.NewExecutionEvent(execution.KindError, e.queue.runID, map[string]interface{}{
		"node_id": nodeID, "message": msg,
	}))
}

func (e *Emitter) Emit(event execution.ExecutionEvent) {
	e.queue.Push(event)
}

// Orchestration-lifecycle emit helpers (SPEC_FULL.md §4.4): these mirror the
// original emitter's emit_orchestration_spawn_decision / _child_lifecycle /
// _join_decision / _cancellation_propagation / _policy_deny methods.

func (e *Emitter) EmitSpawnDecision(data map[string]interface{}) {
	e.queue.Push(execution.NewExecutionEvent(execution.KindOrchestrationSpawnDecision, e.queue.runID, data))
}

func (e *Emitter) EmitChildLifecycle(data map[string]interface{}) {
	e.queue.Push(execution.NewExecutionEvent(execution.KindOrchestrationChildLifecycle, e.queue.runID, data))
}

func (e *Emitter) EmitJoinDecision(data map[string]interface{}) {
	e.queue.Push(execution.NewExecutionEvent(execution.KindOrchestrationJoinDecision, e.queue.runID, data))
}

func (e *Emitter) EmitCancellationPropagation(data map[string]interface{}) {
	e.queue.Push(execution.NewExecutionEvent(execution.KindOrchestrationCancellationProp, e.queue.runID, data))
}

func (e *Emitter) EmitPolicyDeny(data map[string]interface{}) {
	e.queue.Push(execution.NewExecutionEvent(execution.KindOrchestrationPolicyDeny, e.queue.runID, data))
}
