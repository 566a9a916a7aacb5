package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/agentkernel/agentkernel/internal/infrastructure/graph"
)

func linearGraph() *agent.Graph {
	return &agent.Graph{
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

func TestValidate_LinearGraphHasNoFatalIssues(t *testing.T) {
	issues := graph.Validate(linearGraph(), nil)
	assert.False(t, graph.HasFatal(issues))
}

func TestValidate_MissingStart(t *testing.T) {
	g := linearGraph()
	g.Nodes = g.Nodes[1:] // drop the start node

	issues := graph.Validate(g, nil)
	assertHasCode(t, issues, graph.CodeMissingStart, graph.SeverityError)
}

func TestValidate_MultipleStart(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, agent.Node{ID: "start2", Type: agent.NodeTypeStart})

	issues := graph.Validate(g, nil)
	assertHasCode(t, issues, graph.CodeMultipleStart, graph.SeverityError)
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, agent.Node{ID: "start", Type: agent.NodeTypeEnd})

	issues := graph.Validate(g, nil)
	assertHasCode(t, issues, graph.CodeDuplicateNodeID, graph.SeverityError)
}

func TestValidate_UnknownNodeType(t *testing.T) {
	g := linearGraph()
	g.Nodes[1].Type = "bogus_type"

	issues := graph.Validate(g, nil)
	assertHasCode(t, issues, graph.CodeUnknownNodeType, graph.SeverityError)
}

func TestValidate_DanglingEdge(t *testing.T) {
	g := linearGraph()
	g.Edges = append(g.Edges, agent.Edge{ID: "e3", Source: "end", Target: "ghost"})

	issues := graph.Validate(g, nil)
	assertHasCode(t, issues, graph.CodeDanglingEdge, graph.SeverityError)
}

func TestValidate_UnreachableNodeIsWarningNotError(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, agent.Node{ID: "orphan", Type: agent.NodeTypeTransform})

	issues := graph.Validate(g, nil)
	assertHasCode(t, issues, graph.CodeUnreachableNode, graph.SeverityWarning)
	assert.False(t, graph.HasFatal(issues), "unreachable node is advisory, must not block compilation")
}

func TestValidate_MissingEndIsWarningNotError(t *testing.T) {
	g := linearGraph()
	g.Nodes = g.Nodes[:2]
	g.Edges = g.Edges[:1]

	issues := graph.Validate(g, nil)
	assertHasCode(t, issues, graph.CodeMissingEnd, graph.SeverityWarning)
	assert.False(t, graph.HasFatal(issues))
}

func TestValidate_UnknownToolAndModelAgainstCatalog(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes,
		agent.Node{ID: "t", Type: agent.NodeTypeTool, Config: map[string]interface{}{"tool": "nope"}},
		agent.Node{ID: "a", Type: agent.NodeTypeAgent, Config: map[string]interface{}{"model": "nope-model"}},
	)
	catalog := &graph.Catalog{KnownTools: map[string]bool{"real_tool": true}, KnownModels: map[string]bool{"gpt-4": true}}

	issues := graph.Validate(g, catalog)
	assertHasCode(t, issues, graph.CodeUnknownTool, graph.SeverityError)
	assertHasCode(t, issues, graph.CodeUnknownModel, graph.SeverityError)
}

func TestCompile_ProducesEntryAdjacencyAndInterruptSet(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, agent.Node{ID: "approve", Type: agent.NodeTypeUserApproval})
	g.Edges = append(g.Edges, agent.Edge{ID: "e3", Source: "end", Target: "approve"})

	wf, issues, err := graph.Compile("agent-1", "v1", g, nil)
	require.NoError(t, err)
	assert.False(t, graph.HasFatal(issues))

	assert.Equal(t, "start", wf.EntryNode)
	assert.Len(t, wf.Nodes, 4)
	assert.True(t, wf.InterruptSet["approve"])
	assert.False(t, wf.InterruptSet["start"])
	assert.Len(t, wf.Adjacency["start"], 1)
}

func TestCompile_FatalIssueBlocksCompilation(t *testing.T) {
	g := linearGraph()
	g.Nodes = nil // no start -> fatal

	wf, issues, err := graph.Compile("agent-1", "v1", g, nil)
	require.Error(t, err)
	assert.Nil(t, wf)
	assert.True(t, graph.HasFatal(issues))
}

func TestValidateCompile_Idempotent(t *testing.T) {
	g := linearGraph()

	first := graph.Validate(g, nil)
	wf, _, err := graph.Compile("agent-1", "v1", g, nil)
	require.NoError(t, err)

	// Re-validating the same source graph is pure: same issues both times.
	second := graph.Validate(g, nil)
	assert.Equal(t, first, second)
	assert.NotNil(t, wf)
}

func TestEdgesForHandle_RoutesByBranchAndUnscoped(t *testing.T) {
	g := &agent.Graph{
		Nodes: []agent.Node{
			{ID: "start", Type: agent.NodeTypeStart},
			{ID: "cond", Type: agent.NodeTypeIfElse},
			{ID: "a", Type: agent.NodeTypeEnd},
			{ID: "b", Type: agent.NodeTypeEnd},
		},
		Edges: []agent.Edge{
			{ID: "e1", Source: "start", Target: "cond"},
			{ID: "e2", Source: "cond", Target: "a", SourceHandle: "true"},
			{ID: "e3", Source: "cond", Target: "b", SourceHandle: "false"},
		},
	}
	wf, _, err := graph.Compile("agent-1", "v1", g, nil)
	require.NoError(t, err)

	trueEdges := graph.EdgesForHandle(wf, "cond", "true")
	require.Len(t, trueEdges, 1)
	assert.Equal(t, "a", trueEdges[0].Target)

	falseEdges := graph.EdgesForHandle(wf, "cond", "false")
	require.Len(t, falseEdges, 1)
	assert.Equal(t, "b", falseEdges[0].Target)
}

func assertHasCode(t *testing.T, issues []graph.ValidationIssue, code string, severity graph.Severity) {
	t.Helper()
	for _, i := range issues {
		if i.Code == code {
			assert.Equal(t, severity, i.Severity, "issue %s has unexpected severity", code)
			return
		}
	}
	t.Fatalf("expected issue with code %q, got %+v", code, issues)
}
