package graph_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
	domainexec "github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/graph"
)

// recordingEmitter captures every emitted event in order, the same role
// the teacher's in-memory Emitter plays for assertions on event ordering.
type recordingEmitter struct {
	mu     sync.Mutex
	events []domainexec.ExecutionEvent
}

func (r *recordingEmitter) Emit(e domainexec.ExecutionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}
func (r *recordingEmitter) EmitToken(content, nodeID, spanID string) {}
func (r *recordingEmitter) EmitToolStart(nodeID, toolName string, input map[string]interface{}) {}
func (r *recordingEmitter) EmitToolEnd(nodeID, toolName string, output map[string]interface{}, attemptCount int, err error) {
}
func (r *recordingEmitter) EmitError(nodeID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domainexec.NewExecutionEvent(domainexec.KindError, "", map[string]interface{}{"error": err.Error()}))
}

func (r *recordingEmitter) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

type stubExecutor struct {
	delta *domainexec.Delta
	err   error
}

func (s *stubExecutor) Execute(ctx context.Context, nodeID string, state *domainexec.State, config map[string]interface{}, execCtx *domainexec.ExecutionContext) (*domainexec.Delta, error) {
	return s.delta, s.err
}

func newRegistry() *domainexec.Registry {
	r := domainexec.NewRegistry()
	r.Register("start", &stubExecutor{delta: &domainexec.Delta{}})
	r.Register("end", &stubExecutor{delta: &domainexec.Delta{FinalOutput: map[string]interface{}{"final_output": "got v"}}})
	r.Register("set_state", &stubExecutor{delta: &domainexec.Delta{Vars: map[string]interface{}{"x": "v"}}})
	return r
}

func linearWorkflow(t *testing.T) (*domainexec.ExecutableWorkflow, *domainexec.Registry) {
	t.Helper()
	g := &agent.Graph{
		Nodes: []agent.Node{
			{ID: "start", Type: agent.NodeTypeStart},
			{ID: "set", Type: agent.NodeTypeSetState},
			{ID: "end", Type: agent.NodeTypeEnd},
		},
		Edges: []agent.Edge{
			{ID: "e1", Source: "start", Target: "set"},
			{ID: "e2", Source: "set", Target: "end"},
		},
	}
	wf, issues, err := graph.Compile("agent-1", "v1", g, nil)
	require.NoError(t, err)
	require.False(t, graph.HasFatal(issues))
	return wf, newRegistry()
}

// TestEngine_LinearAgentRunReachesFinalOutput covers spec scenario 1: a
// linear start -> set_state -> end graph completes with the expected
// final_output and without ever pausing.
func TestEngine_LinearAgentRunReachesFinalOutput(t *testing.T) {
	wf, registry := linearWorkflow(t)
	engine := graph.NewEngine(registry, nil)
	emitter := &recordingEmitter{}
	ctx := graph.WithExecutionContext(context.Background(), &domainexec.ExecutionContext{
		RunID: "run-1", Emitter: emitter, IsCancelled: func() bool { return false },
	})

	result, err := engine.Run(ctx, "run-1", wf, domainexec.NewState(nil), "")

	require.NoError(t, err)
	require.Equal(t, "completed", result.Status)
	assert.Equal(t, "got v", result.FinalOutput["final_output"])
}

// TestEngine_NodeStartPrecedesNodeEndPerNode covers testable property 1:
// every node_start is immediately followed by that node's node_end before
// another node's node_start appears.
func TestEngine_NodeStartPrecedesNodeEndPerNode(t *testing.T) {
	wf, registry := linearWorkflow(t)
	engine := graph.NewEngine(registry, nil)
	emitter := &recordingEmitter{}
	ctx := graph.WithExecutionContext(context.Background(), &domainexec.ExecutionContext{
		RunID: "run-1", Emitter: emitter, IsCancelled: func() bool { return false },
	})

	_, err := engine.Run(ctx, "run-1", wf, domainexec.NewState(nil), "")
	require.NoError(t, err)

	kinds := emitter.kinds()
	openNode := ""
	for _, k := range kinds {
		switch k {
		case domainexec.KindNodeStart:
			assert.Empty(t, openNode, "node_start fired while another node was still open")
			openNode = "open"
		case domainexec.KindNodeEnd:
			assert.Equal(t, "open", openNode, "node_end fired without a matching node_start")
			openNode = ""
		}
	}
	assert.Empty(t, openNode, "run ended with an unmatched node_start")
}

// TestEngine_ExactlyOneTerminalRunStatus covers testable property 2: a
// completed run emits exactly one terminal run_status event.
func TestEngine_ExactlyOneTerminalRunStatus(t *testing.T) {
	wf, registry := linearWorkflow(t)
	engine := graph.NewEngine(registry, nil)
	emitter := &recordingEmitter{}
	ctx := graph.WithExecutionContext(context.Background(), &domainexec.ExecutionContext{
		RunID: "run-1", Emitter: emitter, IsCancelled: func() bool { return false },
	})

	_, err := engine.Run(ctx, "run-1", wf, domainexec.NewState(nil), "")
	require.NoError(t, err)

	count := 0
	for _, k := range emitter.kinds() {
		if k == domainexec.KindRunStatus {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestEngine_HumanInputInterruptPauseAndResume covers spec scenario 3: a
// human_input node pauses the run the first time it's reached; resuming at
// that node with the payload already merged into state executes it and
// reaches end.
func TestEngine_HumanInputInterruptPauseAndResume(t *testing.T) {
	g := &agent.Graph{
		Nodes: []agent.Node{
			{ID: "start", Type: agent.NodeTypeStart},
			{ID: "wait", Type: agent.NodeTypeHumanInput, Config: map[string]interface{}{"resume_key": "human_input"}},
			{ID: "end", Type: agent.NodeTypeEnd},
		},
		Edges: []agent.Edge{
			{ID: "e1", Source: "start", Target: "wait"},
			{ID: "e2", Source: "wait", Target: "end"},
		},
	}
	wf, issues, err := graph.Compile("agent-1", "v1", g, nil)
	require.NoError(t, err)
	require.False(t, graph.HasFatal(issues))

	registry := domainexec.NewRegistry()
	registry.Register("start", &stubExecutor{delta: &domainexec.Delta{}})
	registry.Register("human_input", &execHumanInput{})
	registry.Register("end", &stubExecutor{delta: &domainexec.Delta{FinalOutput: map[string]interface{}{"final_output": "done"}}})

	engine := graph.NewEngine(registry, nil)
	emitter := &recordingEmitter{}
	ctx := graph.WithExecutionContext(context.Background(), &domainexec.ExecutionContext{
		RunID: "run-1", Emitter: emitter, IsCancelled: func() bool { return false },
	})

	paused, err := engine.Run(ctx, "run-1", wf, domainexec.NewState(nil), "")
	require.NoError(t, err)
	require.Equal(t, "paused", paused.Status)
	assert.Equal(t, "wait", paused.PausedAt)

	resumeState := paused.FinalState.Clone()
	resumeState.Vars["human_input"] = "approved by reviewer"

	finished, err := engine.Run(ctx, "run-1", wf, resumeState, "wait")
	require.NoError(t, err)
	require.Equal(t, "completed", finished.Status)
	assert.Equal(t, "done", finished.FinalOutput["final_output"])
	assert.Equal(t, "approved by reviewer", finished.FinalState.NodeOutputs["wait"])
}

// execHumanInput mirrors the real HumanInputExecutor's behavior for this
// test's "wait" node without importing the infrastructure/execution
// package (avoiding an import cycle with this _test package's helpers).
type execHumanInput struct{}

func (execHumanInput) Execute(ctx context.Context, nodeID string, state *domainexec.State, config map[string]interface{}, execCtx *domainexec.ExecutionContext) (*domainexec.Delta, error) {
	return &domainexec.Delta{Output: state.Vars["human_input"]}, nil
}

// TestEngine_CooperativeCancellationStopsBeforeNextNode verifies that a
// cancelled run stops at the next step boundary instead of completing, and
// reports the cancelled status rather than failed or completed.
func TestEngine_CooperativeCancellationStopsBeforeNextNode(t *testing.T) {
	wf, registry := linearWorkflow(t)
	engine := graph.NewEngine(registry, nil)
	emitter := &recordingEmitter{}
	cancelled := true
	ctx := graph.WithExecutionContext(context.Background(), &domainexec.ExecutionContext{
		RunID: "run-1", Emitter: emitter, IsCancelled: func() bool { return cancelled },
	})

	result, err := engine.Run(ctx, "run-1", wf, domainexec.NewState(nil), "")

	require.NoError(t, err)
	assert.Equal(t, "cancelled", result.Status)
}

// TestEngine_FailedNodeReportsErrorAndStopsTheRun checks that an executor
// error surfaces as a failed RunResult instead of propagating a Go error,
// and that no further nodes execute.
func TestEngine_FailedNodeReportsErrorAndStopsTheRun(t *testing.T) {
	g := &agent.Graph{
		Nodes: []agent.Node{
			{ID: "start", Type: agent.NodeTypeStart},
			{ID: "boom", Type: agent.NodeTypeTransform},
			{ID: "end", Type: agent.NodeTypeEnd},
		},
		Edges: []agent.Edge{
			{ID: "e1", Source: "start", Target: "boom"},
			{ID: "e2", Source: "boom", Target: "end"},
		},
	}
	wf, issues, err := graph.Compile("agent-1", "v1", g, nil)
	require.NoError(t, err)
	require.False(t, graph.HasFatal(issues))

	registry := domainexec.NewRegistry()
	registry.Register("start", &stubExecutor{delta: &domainexec.Delta{}})
	registry.Register("transform", &stubExecutor{delta: &domainexec.Delta{Err: assert.AnError}})
	registry.Register("end", &stubExecutor{delta: &domainexec.Delta{FinalOutput: map[string]interface{}{}}})

	engine := graph.NewEngine(registry, nil)
	ctx := graph.WithExecutionContext(context.Background(), &domainexec.ExecutionContext{
		RunID: "run-1", IsCancelled: func() bool { return false },
	})

	result, err := engine.Run(ctx, "run-1", wf, domainexec.NewState(nil), "")
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "boom", result.PausedAt)
}
