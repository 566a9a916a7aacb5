package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider adapts the anthropic SDK to the Provider contract.
type AnthropicProvider struct {
	client *anthropic.Client
}

// NewAnthropicProvider creates a provider authenticated with apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// buildParams lowers a ChatRequest onto the SDK's params. The system turn
// travels as a top-level field rather than a message, per the API.
func (p *AnthropicProvider) buildParams(req ChatRequest) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var systemPrompt string

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			systemPrompt = msg.Content
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(req.ModelID)),
		Messages:  anthropic.F(messages),
		MaxTokens: anthropic.F(int64(req.MaxTokens)),
	}
	if systemPrompt != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(systemPrompt)})
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.F(float64(req.Temperature))
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolParam, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = anthropic.ToolParam{
				Name:        anthropic.F(tool.Name),
				Description: anthropic.F(tool.Description),
				InputSchema: anthropic.F[interface{}](tool.Parameters),
			}
		}
		params.Tools = anthropic.F(tools)
	}

	return params
}

// Chat sends one aggregated message call.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, err
	}

	out := &ChatResponse{
		ModelID: string(message.Model),
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	for _, content := range message.Content {
		switch content.Type {
		case anthropic.ContentBlockTypeText:
			out.Text += content.Text
		case anthropic.ContentBlockTypeToolUse:
			var args map[string]interface{}
			if content.Input != nil {
				inputJSON, _ := json.Marshal(content.Input)
				_ = json.Unmarshal(inputJSON, &args)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: content.ID, Name: content.Name, Arguments: args})
		}
	}

	return out, nil
}

// StreamChat streams a message call, emitting token chunks per text
// delta, tool-call chunks once the accumulated message carries them, and
// a final chunk with the stop reason.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req ChatRequest, onChunk ChunkHandler) (*ChatResponse, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	message := anthropic.Message{}
	out := &ChatResponse{ModelID: req.ModelID}

	for stream.Next() {
		event := stream.Current()
		message.Accumulate(event)

		switch event.Type {
		case anthropic.MessageStreamEventTypeContentBlockDelta:
			if deltaEvent, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta); ok {
				if deltaEvent.Type == anthropic.ContentBlockDeltaEventDeltaTypeTextDelta && deltaEvent.Text != "" {
					out.Text += deltaEvent.Text
					if err := onChunk(Chunk{Kind: ChunkToken, Token: deltaEvent.Text}); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	for _, content := range message.Content {
		if content.Type != anthropic.ContentBlockTypeToolUse {
			continue
		}
		var args map[string]interface{}
		if content.Input != nil {
			inputJSON, _ := json.Marshal(content.Input)
			_ = json.Unmarshal(inputJSON, &args)
		}
		call := ToolCall{ID: content.ID, Name: content.Name, Arguments: args}
		out.ToolCalls = append(out.ToolCalls, call)
		if err := onChunk(Chunk{Kind: ChunkToolCall, ToolCall: &call}); err != nil {
			return nil, err
		}
	}

	if err := onChunk(Chunk{Kind: ChunkFinal, StopReason: string(message.StopReason)}); err != nil {
		return nil, err
	}

	out.Usage = Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
	return out, nil
}
