package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// StartExecutor implements the start node: delta = {} (SPEC_FULL.md §4.2).
// The run's initial input already lives in state.Vars by the time the
// Engine reaches it, so start has nothing to contribute.
type StartExecutor struct{}

func (e *StartExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	return &execution.Delta{}, nil
}

// EndExecutor implements the end node: renders an output template (or
// passes through state.Vars verbatim) as the run's FinalOutput.
type EndExecutor struct{}

func (e *EndExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	output := make(map[string]interface{})

	if tmpl, ok := config["output"].(string); ok && tmpl != "" {
		output["final_output"] = renderTemplate(tmpl, state)
	} else if mapping, ok := config["output_mapping"].(map[string]interface{}); ok {
		for k, path := range mapping {
			if pathStr, ok := path.(string); ok {
				output[k] = resolvePath(state, pathStr)
			}
		}
	} else {
		for k, v := range state.Vars {
			output[k] = v
		}
	}

	return &execution.Delta{FinalOutput: output}, nil
}

// SetStateExecutor implements set_state: evaluates a map of {key:
// expression} against the current state and merges the results into Vars.
type SetStateExecutor struct{}

func (e *SetStateExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	assignments, _ := config["assignments"].(map[string]interface{})
	vars := make(map[string]interface{}, len(assignments))

	for key, expr := range assignments {
		if tmpl, ok := expr.(string); ok {
			vars[key] = renderTemplate(tmpl, state)
		} else {
			vars[key] = expr
		}
	}

	return &execution.Delta{Vars: vars}, nil
}

// TransformExecutor implements transform: applies an input-mapping-driven
// reshape of existing state into a node output, without side effects on
// Vars unless explicitly configured to write back.
type TransformExecutor struct{}

func (e *TransformExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	mapping, _ := config["mapping"].(map[string]interface{})
	out := make(map[string]interface{}, len(mapping))

	for key, path := range mapping {
		if pathStr, ok := path.(string); ok {
			out[key] = resolvePath(state, pathStr)
		}
	}

	d := &execution.Delta{Output: out}
	if writeKey, ok := config["write_to_state_key"].(string); ok && writeKey != "" {
		d.Vars = map[string]interface{}{writeKey: out}
	}
	return d, nil
}

// IfElseExecutor implements if_else: evaluates config.conditions in
// declaration order and branches via the first one whose expression is
// truthy; "else" is the default when none match. A bare
// config["condition"] string is accepted as the one-condition shorthand
// with "true"/"false" handles.
type IfElseExecutor struct{}

func (e *IfElseExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	if conditions, ok := config["conditions"].([]interface{}); ok {
		for _, raw := range conditions {
			cond, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			branch, _ := cond["branch"].(string)
			expr, _ := cond["expression"].(string)
			if branch == "" || !evalCondition(expr, state) {
				continue
			}
			return &execution.Delta{Output: branch, BranchTaken: branch, Next: nextOverride(cond)}, nil
		}
		return &execution.Delta{Output: "else", BranchTaken: "else"}, nil
	}

	cond, _ := config["condition"].(string)
	result := evalCondition(cond, state)

	branch := "false"
	if result {
		branch = "true"
	}
	return &execution.Delta{Output: result, BranchTaken: branch}, nil
}

// nextOverride lets a condition entry route straight to a named node
// instead of a source_handle-scoped edge.
func nextOverride(cond map[string]interface{}) string {
	next, _ := cond["next"].(string)
	return next
}

// WhileExecutor implements while: evaluates a loop condition each visit and
// routes back to itself (via the "loop" handle) or out (via "exit") —
// iteration count guarding lives in node config so graphs authored without
// a bound don't wedge the Engine's own step ceiling.
type WhileExecutor struct{}

func (e *WhileExecutor) Execute(ctx context.Context, nodeID string, state *execution.State, config map[string]interface{}, execCtx *execution.ExecutionContext) (*execution.Delta, error) {
	cond, _ := config["condition"].(string)
	maxIterations := 100
	if mi, ok := config["max_iterations"].(float64); ok {
		maxIterations = int(mi)
	}

	iterKey := nodeID + "__iteration"
	iteration := 0
	if v, ok := state.Vars[iterKey].(int); ok {
		iteration = v
	} else if v, ok := state.Vars[iterKey].(float64); ok {
		iteration = int(v)
	}

	if iteration >= maxIterations || !evalCondition(cond, state) {
		return &execution.Delta{BranchTaken: "exit", Vars: map[string]interface{}{iterKey: 0}}, nil
	}

	return &execution.Delta{
		BranchTaken: "loop",
		Vars:        map[string]interface{}{iterKey: iteration + 1},
	}, nil
}

// renderTemplate does simple "{{state.x}}"/"{{context.y}}" interpolation,
// matching the minimal templating the teacher's output mapping used.
func renderTemplate(tmpl string, state *execution.State) string {
	return interpolate(tmpl, state)
}

func resolvePath(state *execution.State, path string) interface{} {
	return interpolateValue(path, state)
}

func evalCondition(expr string, state *execution.State) bool {
	v := interpolateValue(expr, state)
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case nil:
		return false
	default:
		return true
	}
}

// interpolate substitutes every {{...}} placeholder in tmpl with its
// resolved value's string form.
func interpolate(tmpl string, state *execution.State) string {
	out := tmpl
	for {
		start := strings.Index(out, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(out[start:], "}}")
		if end < 0 {
			break
		}
		end += start
		path := out[start+2 : end]
		val := interpolateValue(path, state)
		out = out[:start] + fmt.Sprintf("%v", val) + out[end+2:]
	}
	return out
}

// interpolateValue resolves a single dotted path like "state.x" or
// "context.y" or "node_outputs.node_1" against state, without templating
// braces.
func interpolateValue(path string, state *execution.State) interface{} {
	path = strings.TrimSpace(path)
	segs := strings.Split(path, ".")
	if len(segs) == 0 {
		return nil
	}

	var root map[string]interface{}
	rest := segs[1:]
	switch segs[0] {
	case "state":
		root = state.Vars
	case "context":
		root = state.Context
	case "node_outputs", "_node_outputs":
		root = state.NodeOutputs
	default:
		// a bare path resolves relative to the user variables
		root = state.Vars
		rest = segs
	}

	var cur interface{} = root
	for _, s := range rest {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

