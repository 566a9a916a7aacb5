package execution

import "context"

// Emitter is the ambient fire-and-forget event sink executors use to push
// token deltas, tool lifecycle events, and reasoning without blocking on the
// Engine's own node_start/node_end bracketing (SPEC_FULL.md §4.4).
type Emitter interface {
	EmitToken(content, nodeID, spanID string)
	EmitToolStart(nodeID, toolName string, input map[string]interface{})
	EmitToolEnd(nodeID, toolName string, output map[string]interface{}, attemptCount int, err error)
	EmitError(nodeID string, err error)
	Emit(event ExecutionEvent)
}

// ToolResult is what the Tool Invocation Layer hands back to an executor:
// the validated output, the attempts the retry loop used, and — under
// failure_policy=continue — the terminal failure as a payload the agent
// loop can reason over instead of a propagated error.
type ToolResult struct {
	Output       map[string]interface{}
	AttemptCount int
	ErrorPayload map[string]interface{}
}

// Failed reports whether the invocation ended in a swallowed
// (failure_policy=continue) failure.
func (r *ToolResult) Failed() bool { return r.ErrorPayload != nil }

// Payload returns whichever of output/error-payload the consumer should
// surface on on_tool_end and in the node result.
func (r *ToolResult) Payload() map[string]interface{} {
	if r.ErrorPayload != nil {
		return r.ErrorPayload
	}
	return r.Output
}

// SpawnRunRequest is the input to a spawn_run node, carried through
// ExecutionContext.SpawnRun to decouple the node executor from the
// orchestration kernel package (SPEC_FULL.md §4.7).
type SpawnRunRequest struct {
	AgentID         string
	Input           map[string]interface{}
	SpawnKey        string
	RequestedScopes []string
}

// SpawnGroupRequest is the input to a spawn_group node.
type SpawnGroupRequest struct {
	Members         []SpawnRunRequest
	JoinMode        string
	QuorumThreshold int
	FailurePolicy   string
	TimeoutSeconds  int
}

// ExecutionContext is the ambient handle passed to every executor: an
// Emitter for out-of-band events, cancellation observation, and callbacks
// into the Tool Invocation Layer / Orchestration Kernel that individual
// executors (tool, agent/llm, spawn_run, spawn_group, join, cancel_subtree)
// need without importing those packages directly.
type ExecutionContext struct {
	RunID    string
	TenantID string
	AgentID  string
	Emitter  Emitter
	Depth    int
	SpanID   string

	IsCancelled func() bool

	InvokeTool      func(ctx context.Context, toolName string, input map[string]interface{}) (*ToolResult, error)
	SpawnRun        func(ctx context.Context, req SpawnRunRequest) (string, error)
	SpawnGroup      func(ctx context.Context, req SpawnGroupRequest) (string, error)
	Join            func(ctx context.Context, groupID string) (map[string]interface{}, error)
	CancelSubtree   func(ctx context.Context, runID string, includeRoot bool, reason string) error
	Replan          func(ctx context.Context, runID string) (map[string]interface{}, error)
	ExecuteSubgraph func(ctx context.Context, graphID string, inline map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error)
}

// NodeExecutor is the interface every node type implements:
// execute(state, config, ctx) -> delta (SPEC_FULL.md §4). Executors must
// treat state as read-only and return their changes as a Delta.
type NodeExecutor interface {
	Execute(ctx context.Context, nodeID string, state *State, config map[string]interface{}, execCtx *ExecutionContext) (*Delta, error)
}

// Registry resolves a node type name to its executor. Populated at startup
// with the 19 built-in executors (internal/infrastructure/execution).
type Registry struct {
	executors map[string]NodeExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]NodeExecutor)}
}

func (r *Registry) Register(nodeType string, executor NodeExecutor) {
	r.executors[nodeType] = executor
}

func (r *Registry) Resolve(nodeType string) (NodeExecutor, bool) {
	e, ok := r.executors[nodeType]
	return e, ok
}
