package execution

import (
	"context"

	domainexec "github.com/agentkernel/agentkernel/internal/domain/execution"
)

// NullRetriever is the Retriever used when no vector store / embedding
// provider is configured — rag and vector_search nodes still execute, they
// just never find anything. The retrieval subsystem itself is explicitly
// out of scope (SPEC_FULL.md Non-goals); this keeps a graph referencing
// those node types compilable and runnable without one.
type NullRetriever struct{}

func (NullRetriever) Retrieve(ctx context.Context, query string, topK int, filters map[string]interface{}) ([]RAGHit, error) {
	return nil, nil
}

// BuildRegistry wires all 19 node executors (SPEC_FULL.md §4.1/§4.2) into a
// populated domainexec.Registry, ready for graph.NewEngine. retriever may be
// nil, in which case rag/vector_search fall back to NullRetriever. The
// replan/spawn/join/cancel executors reach the Orchestration Kernel
// through the callbacks installed on each run's ExecutionContext.
func BuildRegistry(agents *AgentExecutor, retriever Retriever) *domainexec.Registry {
	if retriever == nil {
		retriever = NullRetriever{}
	}

	r := domainexec.NewRegistry()

	r.Register("start", &StartExecutor{})
	r.Register("end", &EndExecutor{})
	r.Register("set_state", &SetStateExecutor{})
	r.Register("transform", &TransformExecutor{})
	r.Register("if_else", &IfElseExecutor{})
	r.Register("while", &WhileExecutor{})
	r.Register("classify", &ClassifyExecutor{Classify: agents.Classify})
	r.Register("router", &RouterExecutor{})
	r.Register("human_input", &HumanInputExecutor{})
	r.Register("user_approval", &UserApprovalExecutor{})
	r.Register("agent", agents)
	r.Register("llm", agents)
	r.Register("tool", &ToolExecutor{})
	r.Register("rag", &RAGExecutor{Retriever: retriever})
	r.Register("vector_search", &VectorSearchExecutor{Retriever: retriever})
	r.Register("spawn_run", &SpawnRunExecutor{})
	r.Register("spawn_group", &SpawnGroupExecutor{})
	r.Register("join", &JoinExecutor{})
	r.Register("cancel_subtree", &CancelSubtreeExecutor{})
	r.Register("replan", &ReplanExecutor{})

	return r
}
