package execution

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/llm"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// AgentExecutor implements the agent/llm node's loop (SPEC_FULL.md §4.5):
// call model, stream token deltas, dispatch any tool calls through the Tool
// Invocation Layer (sequentially or in parallel up to max_parallel_tools),
// append tool results, and
// re-enter until a final text response or max_tool_iterations.
type AgentExecutor struct {
	providers map[string]llm.Provider
}

// NewAgentExecutor wires the model providers available to agent/llm
// nodes — an empty key is skipped so a deployment can run with only one
// provider configured.
func NewAgentExecutor(openaiKey, anthropicKey string) *AgentExecutor {
	providers := make(map[string]llm.Provider)
	if openaiKey != "" {
		providers["openai"] = llm.NewOpenAIProvider(openaiKey)
	}
	if anthropicKey != "" {
		providers["anthropic"] = llm.NewAnthropicProvider(anthropicKey)
	}
	return &AgentExecutor{providers: providers}
}

func (e *AgentExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	model, _ := config["model"].(string)
	if model == "" {
		return nil, errors.InvalidInput("model", "model is required for agent node")
	}

	providerName := providerFromModel(model)
	provider, ok := e.providers[providerName]
	if !ok {
		return nil, errors.InvalidInput("provider", "no provider configured for "+providerName)
	}

	messages := buildMessages(config, state)
	temperature := float32(0.7)
	if v, ok := config["temperature"].(float64); ok {
		temperature = float32(v)
	}
	maxTokens := 1000
	if v, ok := config["max_tokens"].(float64); ok {
		maxTokens = int(v)
	}
	maxToolIterations := 5
	if v, ok := config["max_tool_iterations"].(float64); ok {
		maxToolIterations = int(v)
	}
	maxParallelTools := 1
	if v, ok := config["max_parallel_tools"].(float64); ok {
		maxParallelTools = int(v)
	}

	tools := extractLLMTools(config)

	var finalContent string
	var appended []execution.Message

	for iter := 0; iter < maxToolIterations; iter++ {
		if execCtx != nil && execCtx.IsCancelled != nil && execCtx.IsCancelled() {
			return nil, errors.Timeout("agent_loop", context.Canceled)
		}

		req := llm.ChatRequest{ModelID: model, Messages: messages, Temperature: temperature, MaxTokens: maxTokens, Tools: tools}
		resp, err := provider.StreamChat(ctx, req, func(chunk llm.Chunk) error {
			if chunk.Kind == llm.ChunkToken && execCtx != nil && execCtx.Emitter != nil {
				execCtx.Emitter.EmitToken(chunk.Token, nodeID, execCtx.SpanID)
			}
			return nil
		})
		if err != nil {
			return nil, errors.NewDomainError("LLM_CALL_FAILED", "llm call failed", err)
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Text
			break
		}

		toolResults, err := e.dispatchToolCalls(ctx, nodeID, resp.ToolCalls, execCtx, maxParallelTools, config)
		if err != nil {
			return nil, err
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Text})
		for _, tr := range toolResults {
			messages = append(messages, llm.Message{Role: "tool", Content: tr.content})
			appended = append(appended, execution.Message{Role: "tool", Name: tr.name, Content: tr.content})
		}
	}

	d := &execution.Delta{
		Output:      finalContent,
		ToolOutputs: appended,
		Messages:    []execution.Message{{Role: "assistant", Content: finalContent}},
	}

	if outputFormat, _ := config["output_format"].(string); outputFormat == "json" {
		var parsed interface{}
		if err := json.Unmarshal([]byte(finalContent), &parsed); err == nil {
			d.Output = parsed
		}
	}
	if writeToContext, _ := config["write_output_to_context"].(bool); writeToContext {
		d.WriteLastOutput = true
	}

	return d, nil
}

// Classify implements the classify node's model dispatch: a single,
// tool-free completion constrained to one of labels. It reuses the same
// provider clients as the agent/llm loop so classify and agent nodes share
// one set of API keys (SPEC_FULL.md §4.2).
func (e *AgentExecutor) Classify(ctx context.Context, model, prompt string, labels []string) (string, error) {
	provider, ok := e.providers[providerFromModel(model)]
	if !ok {
		return "", errors.InvalidInput("provider", "no provider configured for "+providerFromModel(model))
	}

	instruction := "Respond with exactly one of the following labels and nothing else: " + strings.Join(labels, ", ")
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		ModelID: model,
		Messages: []llm.Message{
			{Role: "system", Content: instruction},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   32,
	})
	if err != nil {
		return "", errors.NewDomainError("LLM_CALL_FAILED", "classify call failed", err)
	}

	label := strings.TrimSpace(resp.Text)
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return l, nil
		}
	}
	if len(labels) > 0 {
		return labels[0], nil
	}
	return label, nil
}

type toolCallResult struct {
	name    string
	content string
}

// dispatchToolCalls runs tool calls through ExecutionContext.InvokeTool,
// concurrency-capped at maxParallel only: with maxParallel <= 1 or a single
// call they run one after another in order. A tool's concurrency_group and
// is_pure flag are not read, so two calls sharing a concurrency_group can
// run at the same time.
func (e *AgentExecutor) dispatchToolCalls(ctx context.Context, nodeID string, calls []llm.ToolCall, execCtx *execution.ExecutionContext, maxParallel int, config map[string]interface{}) ([]toolCallResult, error) {
	if execCtx == nil || execCtx.InvokeTool == nil {
		return nil, errors.InvalidState("agent", "tool invocation layer not wired into execution context")
	}

	results := make([]toolCallResult, len(calls))

	if maxParallel <= 1 || len(calls) <= 1 {
		for i, tc := range calls {
			r, err := e.invokeOne(ctx, nodeID, tc, execCtx)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, tc := range calls {
		i, tc := i, tc
		g.Go(func() error {
			r, err := e.invokeOne(gctx, nodeID, tc, execCtx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *AgentExecutor) invokeOne(ctx context.Context, nodeID string, tc llm.ToolCall, execCtx *execution.ExecutionContext) (toolCallResult, error) {
	if execCtx.Emitter != nil {
		execCtx.Emitter.EmitToolStart(nodeID, tc.Name, tc.Arguments)
	}

	result, err := execCtx.InvokeTool(ctx, tc.Name, tc.Arguments)

	if err != nil {
		if execCtx.Emitter != nil {
			execCtx.Emitter.EmitToolEnd(nodeID, tc.Name, nil, 0, err)
		}
		return toolCallResult{}, err
	}

	if execCtx.Emitter != nil {
		execCtx.Emitter.EmitToolEnd(nodeID, tc.Name, result.Payload(), result.AttemptCount, nil)
	}

	// Under failure_policy=continue the error payload becomes the tool
	// message, so the model decides whether to retry, re-route, or give up.
	b, _ := json.Marshal(result.Payload())
	return toolCallResult{name: tc.Name, content: string(b)}, nil
}

func providerFromModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"), strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	default:
		return "openai"
	}
}

func buildMessages(config map[string]interface{}, state *execution.State) []llm.Message {
	var messages []llm.Message

	if systemPrompt, ok := config["system_prompt"].(string); ok && systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: interpolate(systemPrompt, state)})
	}

	for _, m := range state.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	if prompt, ok := config["prompt"].(string); ok && prompt != "" {
		messages = append(messages, llm.Message{Role: "user", Content: interpolate(prompt, state)})
	}

	return messages
}

func extractLLMTools(config map[string]interface{}) []llm.ToolSpec {
	var tools []llm.ToolSpec
	raw, _ := config["tools"].([]interface{})
	for _, t := range raw {
		m, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := m["description"].(string)
		params, _ := m["parameters"].(map[string]interface{})
		tools = append(tools, llm.ToolSpec{Name: name, Description: desc, Parameters: params})
	}
	return tools
}
