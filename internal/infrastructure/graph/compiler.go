package graph

import (
	"fmt"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// Severity distinguishes fatal structural problems from advisory ones
// (SPEC_FULL.md §4.1/§4.2).
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one structural or semantic problem found while
// validating a Graph.
type ValidationIssue struct {
	Code     string
	NodeID   string
	Message  string
	Severity Severity
}

// Validation error/warning codes fixed by SPEC_FULL.md §4.1.
const (
	CodeUnknownNodeType  = "UnknownNodeType"
	CodeDuplicateNodeID  = "DuplicateNodeId"
	CodeDanglingEdge     = "DanglingEdge"
	CodeMissingStart     = "MissingStart"
	CodeMultipleStart    = "MultipleStart"
	CodeUnreachableNode  = "UnreachableNode"
	CodeMissingEnd       = "MissingEnd"
	CodeUnknownTool      = "UnknownTool"
	CodeUnknownModel     = "UnknownModel"
	CodeSchemaInvalid    = "SchemaInvalid"
)

// Catalog supplies the compiler with the identifiers it cannot validate
// from the graph alone: registered tool names and model names. A nil
// Catalog skips those two checks (SchemaInvalid is always checked against
// each node's own config, independent of Catalog).
type Catalog struct {
	KnownTools  map[string]bool
	KnownModels map[string]bool
}

// Validate runs every structural and semantic check over a Graph and
// returns the full issue list; fatal issues (Severity == error) block
// Compile from producing an ExecutableWorkflow.
func Validate(g *agent.Graph, catalog *Catalog) []ValidationIssue {
	var issues []ValidationIssue

	seen := make(map[string]bool)
	startNodes := make([]string, 0)

	for _, n := range g.Nodes {
		if seen[n.ID] {
			issues = append(issues, ValidationIssue{
				Code: CodeDuplicateNodeID, NodeID: n.ID, Severity: SeverityError,
				Message: fmt.Sprintf("node id %q appears more than once", n.ID),
			})
			continue
		}
		seen[n.ID] = true

		if !agent.KnownNodeTypes[n.Type] {
			issues = append(issues, ValidationIssue{
				Code: CodeUnknownNodeType, NodeID: n.ID, Severity: SeverityError,
				Message: fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type),
			})
			continue
		}

		if n.Type == agent.NodeTypeStart {
			startNodes = append(startNodes, n.ID)
		}

		issues = append(issues, validateNodeConfig(n, catalog)...)
	}

	for _, e := range g.Edges {
		if !seen[e.Source] {
			issues = append(issues, ValidationIssue{
				Code: CodeDanglingEdge, NodeID: e.Source, Severity: SeverityError,
				Message: fmt.Sprintf("edge %q references unknown source %q", e.ID, e.Source),
			})
		}
		if !seen[e.Target] {
			issues = append(issues, ValidationIssue{
				Code: CodeDanglingEdge, NodeID: e.Target, Severity: SeverityError,
				Message: fmt.Sprintf("edge %q references unknown target %q", e.ID, e.Target),
			})
		}
	}

	switch len(startNodes) {
	case 0:
		issues = append(issues, ValidationIssue{Code: CodeMissingStart, Severity: SeverityError, Message: "graph has no start node"})
	default:
		if len(startNodes) > 1 {
			issues = append(issues, ValidationIssue{Code: CodeMultipleStart, Severity: SeverityError, Message: "graph has more than one start node"})
		}
	}

	hasEnd := false
	for _, n := range g.Nodes {
		if n.Type == agent.NodeTypeEnd {
			hasEnd = true
			break
		}
	}
	if !hasEnd {
		issues = append(issues, ValidationIssue{Code: CodeMissingEnd, Severity: SeverityWarning, Message: "graph has no end node"})
	}

	if len(startNodes) > 0 {
		reachable := reachableFrom(startNodes[0], g)
		for _, n := range g.Nodes {
			if !reachable[n.ID] {
				issues = append(issues, ValidationIssue{
					Code: CodeUnreachableNode, NodeID: n.ID, Severity: SeverityWarning,
					Message: fmt.Sprintf("node %q is not reachable from start", n.ID),
				})
			}
		}
	}

	return issues
}

func validateNodeConfig(n agent.Node, catalog *Catalog) []ValidationIssue {
	var issues []ValidationIssue

	if catalog != nil {
		if n.Type == agent.NodeTypeTool {
			if toolName, _ := n.Config["tool"].(string); toolName != "" && !catalog.KnownTools[toolName] {
				issues = append(issues, ValidationIssue{
					Code: CodeUnknownTool, NodeID: n.ID, Severity: SeverityError,
					Message: fmt.Sprintf("node %q references unknown tool %q", n.ID, toolName),
				})
			}
		}
		if n.Type == agent.NodeTypeAgent || n.Type == agent.NodeTypeLLM {
			if model, _ := n.Config["model"].(string); model != "" && !catalog.KnownModels[model] {
				issues = append(issues, ValidationIssue{
					Code: CodeUnknownModel, NodeID: n.ID, Severity: SeverityError,
					Message: fmt.Sprintf("node %q references unknown model %q", n.ID, model),
				})
			}
		}
	}

	if n.Type == agent.NodeTypeTool {
		if _, ok := n.Config["input_schema"]; ok {
			if _, isMap := n.Config["input_schema"].(map[string]interface{}); !isMap {
				issues = append(issues, ValidationIssue{
					Code: CodeSchemaInvalid, NodeID: n.ID, Severity: SeverityError,
					Message: fmt.Sprintf("node %q input_schema must be an object", n.ID),
				})
			}
		}
	}

	return issues
}

func reachableFrom(start string, g *agent.Graph) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	visited := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return visited
}

// HasFatal reports whether any issue in the list is a blocking error.
func HasFatal(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Compile validates a Graph and, if no fatal issue is found, lowers it into
// an ExecutableWorkflow: nodes indexed by id, an adjacency map keyed by
// "source_id" (and "source_id#handle" for branch-scoped edges), the
// precomputed interrupt set, and the single entry node (SPEC_FULL.md §4.1).
func Compile(agentID, version string, g *agent.Graph, catalog *Catalog) (*execution.ExecutableWorkflow, []ValidationIssue, error) {
	issues := Validate(g, catalog)
	if HasFatal(issues) {
		return nil, issues, fmt.Errorf("graph failed validation with %d fatal issue(s)", countFatal(issues))
	}

	nodes := make(map[string]agent.Node, len(g.Nodes))
	var entry string
	for _, n := range g.Nodes {
		nodes[n.ID] = n
		if n.Type == agent.NodeTypeStart {
			entry = n.ID
		}
	}

	adjacency := make(map[string][]agent.Edge)
	for _, e := range g.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e)
	}

	interruptSet := make(map[string]bool)
	for _, n := range g.Nodes {
		if agent.InterruptNodeTypes[n.Type] {
			interruptSet[n.ID] = true
		}
	}

	return &execution.ExecutableWorkflow{
		AgentID:      agentID,
		Version:      version,
		Nodes:        nodes,
		Adjacency:    adjacency,
		InterruptSet: interruptSet,
		EntryNode:    entry,
	}, issues, nil
}

func countFatal(issues []ValidationIssue) int {
	n := 0
	for _, i := range issues {
		if i.Severity == SeverityError {
			n++
		}
	}
	return n
}

// EdgesForHandle returns the outgoing edges of a node that match a given
// source_handle (branch taken), or all edges with no source_handle set when
// handle is empty — the routing rule used by if_else/classify/router/while
// executors' BranchTaken delta field.
func EdgesForHandle(wf *execution.ExecutableWorkflow, nodeID, handle string) []agent.Edge {
	var out []agent.Edge
	for _, e := range wf.Adjacency[nodeID] {
		if e.SourceHandle == "" || e.SourceHandle == handle {
			out = append(out, e)
		}
	}
	return out
}
