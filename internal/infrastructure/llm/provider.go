package llm

import (
	"context"
)

// Message is one turn of the conversation sent to a model.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// ToolSpec describes one callable tool in the palette offered to a model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// Usage is the token accounting a provider reports per call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatRequest is a provider-neutral chat call: model id, transcript,
// sampling knobs, and the tool palette.
type ChatRequest struct {
	ModelID     string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Tools       []ToolSpec
}

// ChatResponse is the aggregated result of one model call.
type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
	ModelID   string
	Usage     Usage
}

// ChunkKind discriminates the streaming sum type the agent executor's
// state machine consumes: token text, a tool-call fragment, or the final
// chunk carrying the stop reason.
type ChunkKind string

const (
	ChunkToken    ChunkKind = "token"
	ChunkToolCall ChunkKind = "tool_call"
	ChunkFinal    ChunkKind = "final"
)

// Chunk is one element of a model's output stream. Exactly the fields for
// its Kind are set.
type Chunk struct {
	Kind       ChunkKind
	Token      string
	ToolCall   *ToolCall
	StopReason string
}

// ChunkHandler receives stream chunks in generation order. Returning an
// error aborts the stream.
type ChunkHandler func(Chunk) error

// Provider is the ModelProvider contract the agent/llm and classify
// executors consume. Chat aggregates; StreamChat delivers chunks as they
// arrive and still returns the aggregate, so callers that only need the
// final text share one code path.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	StreamChat(ctx context.Context, req ChatRequest, onChunk ChunkHandler) (*ChatResponse, error)
	Name() string
}
