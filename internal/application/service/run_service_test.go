package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/application/service"
	"github.com/agentkernel/agentkernel/internal/domain/agent"
	domainexec "github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/domain/run"
	infraexec "github.com/agentkernel/agentkernel/internal/infrastructure/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/graph"
	"github.com/agentkernel/agentkernel/internal/infrastructure/persistence/memory"
	"github.com/agentkernel/agentkernel/internal/infrastructure/tools"
)

// stubKernel satisfies service.Kernel for runs whose graphs never reach an
// orchestration node.
type stubKernel struct{}

func (stubKernel) ExecutionContext(tenantID, runID string, depth int) domainexec.ExecutionContext {
	return domainexec.ExecutionContext{RunID: runID, TenantID: tenantID, Depth: depth}
}

type serviceFixture struct {
	svc      *service.RunService
	runs     *memory.RunRepository
	agents   *memory.AgentRepository
	agentDef *agent.AgentDefinition
}

func newServiceFixture(t *testing.T, g agent.Graph) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	runs := memory.NewRunRepository()
	agents := memory.NewAgentRepository()
	interrupts := memory.NewInterruptRepository()
	checkpoints := memory.NewCheckpointRepository()

	def, err := agent.NewAgentDefinition("tenant-1", "test-agent", "Test Agent", g, nil, agent.ExecutionConstraints{})
	require.NoError(t, err)
	require.NoError(t, agents.Save(ctx, def))

	registry := infraexec.BuildRegistry(infraexec.NewAgentExecutor("", ""), nil)
	engine := graph.NewEngine(registry, checkpoints)

	invoker := tools.NewInvoker(tools.NewRegistry(), tools.DefaultRetryPolicy, nil)

	svc := service.NewRunService(runs, agents, interrupts, checkpoints, engine, invoker, stubKernel{}, nil, nil)
	return &serviceFixture{svc: svc, runs: runs, agents: agents, agentDef: def}
}

func linearGraph() agent.Graph {
	return agent.Graph{
		SpecVersion: "1",
		Nodes: []agent.Node{
			{ID: "start", Type: agent.NodeTypeStart},
			{ID: "set", Type: agent.NodeTypeSetState, Config: map[string]interface{}{
				"assignments": map[string]interface{}{"x": "v"},
			}},
			{ID: "end", Type: agent.NodeTypeEnd, Config: map[string]interface{}{
				"output": "got {{state.x}}",
			}},
		},
		Edges: []agent.Edge{
			{ID: "e1", Source: "start", Target: "set"},
			{ID: "e2", Source: "set", Target: "end"},
		},
	}
}

func approvalGraph() agent.Graph {
	return agent.Graph{
		SpecVersion: "1",
		Nodes: []agent.Node{
			{ID: "start", Type: agent.NodeTypeStart},
			{ID: "wait", Type: agent.NodeTypeHumanInput, Config: map[string]interface{}{
				"resume_key": "approval",
			}},
			{ID: "end", Type: agent.NodeTypeEnd, Config: map[string]interface{}{
				"output": "decision: {{state.approval}}",
			}},
		},
		Edges: []agent.Edge{
			{ID: "e1", Source: "start", Target: "wait"},
			{ID: "e2", Source: "wait", Target: "end"},
		},
	}
}

func TestRunService_LinearRunCompletes(t *testing.T) {
	f := newServiceFixture(t, linearGraph())
	ctx := context.Background()

	r, err := f.svc.CreateRun(ctx, "tenant-1", f.agentDef.ID(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, run.StatusQueued, r.Status())

	require.NoError(t, f.svc.ExecuteRun(ctx, r.ID()))

	final, err := f.runs.FindByID(ctx, r.ID())
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, final.Status())
	require.NotNil(t, final.OutputResult())
	assert.Equal(t, "got v", final.OutputResult()["final_output"])
	assert.NotNil(t, final.CompletedAt())
}

func TestRunService_HumanInterruptPauseAndResume(t *testing.T) {
	f := newServiceFixture(t, approvalGraph())
	ctx := context.Background()

	r, err := f.svc.CreateRun(ctx, "tenant-1", f.agentDef.ID(), map[string]interface{}{})
	require.NoError(t, err)

	require.NoError(t, f.svc.ExecuteRun(ctx, r.ID()))

	paused, err := f.runs.FindByID(ctx, r.ID())
	require.NoError(t, err)
	require.Equal(t, run.StatusPaused, paused.Status())
	assert.Equal(t, "wait", paused.CheckpointRef())

	t.Run("resume with a payload reaches the end node", func(t *testing.T) {
		require.NoError(t, f.svc.ResumeRun(ctx, r.ID(), map[string]interface{}{"approval": "approve"}))

		final, err := f.runs.FindByID(ctx, r.ID())
		require.NoError(t, err)
		assert.Equal(t, run.StatusCompleted, final.Status())
		assert.Equal(t, "decision: approve", final.OutputResult()["final_output"])
	})

	t.Run("resuming a terminal run is rejected", func(t *testing.T) {
		err := f.svc.ResumeRun(ctx, r.ID(), map[string]interface{}{"approval": "approve"})
		require.Error(t, err)
	})
}

func TestRunService_ResumeRequiresPausedStatus(t *testing.T) {
	f := newServiceFixture(t, linearGraph())
	ctx := context.Background()

	r, err := f.svc.CreateRun(ctx, "tenant-1", f.agentDef.ID(), nil)
	require.NoError(t, err)

	err = f.svc.ResumeRun(ctx, r.ID(), map[string]interface{}{"approval": "approve"})
	require.Error(t, err, "a queued run has nothing to resume")
}

func TestRunService_CancelRun(t *testing.T) {
	f := newServiceFixture(t, linearGraph())
	ctx := context.Background()

	r, err := f.svc.CreateRun(ctx, "tenant-1", f.agentDef.ID(), nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelRun(ctx, r.ID(), "operator_requested"))

	got, err := f.runs.FindByID(ctx, r.ID())
	require.NoError(t, err)
	assert.Equal(t, run.StatusCancelled, got.Status())
	assert.Equal(t, "operator_requested", got.ErrorMessage())
}

func TestRunService_UnknownAgentIsNotFound(t *testing.T) {
	f := newServiceFixture(t, linearGraph())

	_, err := f.svc.CreateRun(context.Background(), "tenant-1", "missing-agent", nil)
	require.Error(t, err)
}
