package execution

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
)

// ExecutableWorkflow is the compiled form of an agent.Graph produced by the
// Graph Compiler (SPEC_FULL.md §4.1): nodes indexed by id, an adjacency map
// keyed by (source_id, source_handle), the precomputed interrupt set, and
// the single entry node.
type ExecutableWorkflow struct {
	AgentID      string
	Version      string
	Nodes        map[string]agent.Node
	Adjacency    map[string][]agent.Edge
	InterruptSet map[string]bool
	EntryNode    string
}

// Engine drives an ExecutableWorkflow for one Run, producing a stream of
// ExecutionEvents and persisting a Checkpoint at each node boundary
// (SPEC_FULL.md §4.3).
type Engine interface {
	// Run drives the workflow from its entry node (or, on resume, from the
	// node a prior Pause left in the checkpoint) until it reaches a
	// terminal or paused state.
	Run(ctx context.Context, runID string, wf *ExecutableWorkflow, state *State, resumeFromNode string) (*RunResult, error)
}

// RunResult is what the Engine leaves behind once a drive loop returns,
// whichever of completed/failed/cancelled/paused it stopped at.
type RunResult struct {
	Status         string
	FinalOutput    map[string]interface{}
	FinalState     *State
	PausedAt       string
	PausedNodeType string
	ErrorMsg       string
}

// NodeExecutionRecord is one row of a run's execution history, used to
// reconstruct AgentTrace spans and to answer execution-history queries.
type NodeExecutionRecord struct {
	ID         int64
	RunID      string
	NodeID     string
	NodeType   string
	Status     string
	Input      map[string]interface{}
	Output     map[string]interface{}
	Error      string
	DurationMs int64
}

// HistoryRepository persists per-node execution records independently of
// the coarser Checkpoint snapshot, so execution history can be queried
// without replaying checkpoints.
type HistoryRepository interface {
	SaveNodeExecution(ctx context.Context, rec NodeExecutionRecord) error
	GetExecutionHistory(ctx context.Context, runID string) ([]NodeExecutionRecord, error)
}
