package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts the go-openai SDK to the Provider contract.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider authenticated with apiKey.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// buildRequest lowers a ChatRequest onto the SDK's request shape, shared
// by the aggregate and streaming paths.
func (p *OpenAIProvider) buildRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	out := openai.ChatCompletionRequest{
		Model:       req.ModelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

// Chat sends one aggregated chat completion.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	out := &ChatResponse{
		ModelID: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Text = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
		}
	}

	return out, nil
}

// StreamChat streams a chat completion, emitting token chunks as deltas
// arrive, tool-call chunks once each call's argument fragments have
// assembled, and a final chunk with the stop reason.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req ChatRequest, onChunk ChunkHandler) (*ChatResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	out := &ChatResponse{ModelID: req.ModelID}
	finishReason := ""

	// Tool-call arguments arrive as string fragments spread over many
	// deltas; collect per index and decode once the stream ends.
	type partialCall struct {
		id, name, args string
	}
	partials := make(map[int]*partialCall)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			out.Text += choice.Delta.Content
			if err := onChunk(Chunk{Kind: ChunkToken, Token: choice.Delta.Content}); err != nil {
				return nil, err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := partials[idx]
			if !ok {
				pc = &partialCall{}
				partials[idx] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args += tc.Function.Arguments
		}
	}

	for _, pc := range partials {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(pc.args), &args)
		call := ToolCall{ID: pc.id, Name: pc.name, Arguments: args}
		out.ToolCalls = append(out.ToolCalls, call)
		if err := onChunk(Chunk{Kind: ChunkToolCall, ToolCall: &call}); err != nil {
			return nil, err
		}
	}

	if err := onChunk(Chunk{Kind: ChunkFinal, StopReason: finishReason}); err != nil {
		return nil, err
	}
	return out, nil
}
