package execution

import (
	"context"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// RAGHit is one normalized retrieval result handed back to a graph as
// context[node_id] (SPEC_FULL.md §4.2).
type RAGHit struct {
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Retriever is the external RAG subsystem boundary — its implementation
// (vector store, embedding provider, reranker) is explicitly out of scope
// for this module (SPEC_FULL.md Non-goals); executors only depend on this
// narrow interface.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filters map[string]interface{}) ([]RAGHit, error)
}

// RAGExecutor implements rag: derives a query from input mappings, calls
// the external retrieval subsystem, and writes normalized hits plus a
// reasoning summary into context[node_id].
type RAGExecutor struct {
	Retriever Retriever
}

func (e *RAGExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	return retrieveAndAnnotate(ctx, nodeID, state, config, execCtx, e.Retriever, "rag")
}

// VectorSearchExecutor implements vector_search: same contract as rag, kept
// as a distinct node type so graphs can express "pure similarity search" vs
// "full RAG" separately, per SPEC_FULL.md §4.2's 19-node enumeration.
type VectorSearchExecutor struct {
	Retriever Retriever
}

func (e *VectorSearchExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	return retrieveAndAnnotate(ctx, nodeID, state, config, execCtx, e.Retriever, "vector_search")
}

func retrieveAndAnnotate(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext, retriever Retriever, kind string) (*execution.Delta, error) {
	queryTmpl, _ := config["query"].(string)
	query := interpolate(queryTmpl, state)

	topK := 5
	if v, ok := config["top_k"].(float64); ok {
		topK = int(v)
	}
	filters, _ := config["filters"].(map[string]interface{})

	var hits []RAGHit
	var err error
	if retriever != nil {
		hits, err = retriever.Retrieve(ctx, query, topK, filters)
		if err != nil {
			return nil, err
		}
	}

	if execCtx != nil && execCtx.Emitter != nil {
		execCtx.Emitter.Emit(execution.NewExecutionEvent(execution.KindReasoning, execCtx.RunID, map[string]interface{}{
			"node_id": nodeID, "kind": kind, "hit_count": len(hits),
		}))
	}

	return &execution.Delta{
		Context: map[string]interface{}{nodeID: hits},
		Output:  hits,
	}, nil
}
