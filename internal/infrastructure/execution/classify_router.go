package execution

import (
	"context"
	"encoding/json"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// ClassifyExecutor implements classify: dispatches a small-model
// categorization call and branches on the returned label. Model dispatch is
// delegated to the same agent-loop client the agent/llm executor uses, kept
// separate here because classify never iterates on tool calls.
type ClassifyExecutor struct {
	Classify func(ctx context.Context, model, prompt string, labels []string) (string, error)
}

func (e *ClassifyExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	model, _ := config["model"].(string)
	promptTmpl, _ := config["prompt"].(string)
	prompt := interpolate(promptTmpl, state)

	var labels []string
	if raw, ok := config["labels"].([]interface{}); ok {
		for _, l := range raw {
			if s, ok := l.(string); ok {
				labels = append(labels, s)
			}
		}
	}

	label := ""
	var err error
	if e.Classify != nil {
		label, err = e.Classify(ctx, model, prompt, labels)
		if err != nil {
			return nil, err
		}
	} else if len(labels) > 0 {
		label = labels[0]
	}

	return &execution.Delta{Output: label, BranchTaken: label}, nil
}

// RouterExecutor implements router: a pure rule-based dispatcher — no model
// call, just a first-match lookup table keyed by a state expression's
// result.
type RouterExecutor struct{}

func (e *RouterExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	key, _ := config["key"].(string)
	value := interpolateValue(key, state)

	routes, _ := config["routes"].(map[string]interface{})
	branch, _ := routes[toString(value)].(string)
	if branch == "" {
		branch, _ = config["default"].(string)
	}

	return &execution.Delta{Output: value, BranchTaken: branch}, nil
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return interfaceToString(v)
}

func interfaceToString(v interface{}) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return toStringFallback(v)
	}
}

func toStringFallback(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
