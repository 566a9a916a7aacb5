package execution_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

func TestMerge(t *testing.T) {
	base := func() *execution.State {
		s := execution.NewState(map[string]interface{}{"x": "old", "keep": 1})
		s.Messages = append(s.Messages, execution.Message{Role: "user", Content: "hi"})
		s.Context["existing"] = "ctx"
		return s
	}

	t.Run("messages append in order", func(t *testing.T) {
		out := execution.Merge(base(), "n1", &execution.Delta{
			Messages:    []execution.Message{{Role: "assistant", Content: "hello"}},
			ToolOutputs: []execution.Message{{Role: "tool", Name: "search", Content: "{}"}},
		})

		require.Len(t, out.Messages, 3)
		assert.Equal(t, "user", out.Messages[0].Role)
		assert.Equal(t, "assistant", out.Messages[1].Role)
		assert.Equal(t, "tool", out.Messages[2].Role)
	})

	t.Run("node output lands under the node id", func(t *testing.T) {
		out := execution.Merge(base(), "n1", &execution.Delta{Output: map[string]interface{}{"y": 2}})
		assert.Equal(t, map[string]interface{}{"y": 2}, out.NodeOutputs["n1"])
	})

	t.Run("vars and context shallow-merge", func(t *testing.T) {
		out := execution.Merge(base(), "n1", &execution.Delta{
			Vars:    map[string]interface{}{"x": "new"},
			Context: map[string]interface{}{"added": true},
		})

		assert.Equal(t, "new", out.Vars["x"])
		assert.Equal(t, 1, out.Vars["keep"])
		assert.Equal(t, "ctx", out.Context["existing"])
		assert.Equal(t, true, out.Context["added"])
	})

	t.Run("never mutates its input", func(t *testing.T) {
		s := base()
		_ = execution.Merge(s, "n1", &execution.Delta{
			Messages: []execution.Message{{Role: "assistant"}},
			Vars:     map[string]interface{}{"x": "new"},
			Output:   "out",
		})

		assert.Len(t, s.Messages, 1)
		assert.Equal(t, "old", s.Vars["x"])
		assert.Empty(t, s.NodeOutputs)
	})

	t.Run("last agent output only on request", func(t *testing.T) {
		plain := execution.Merge(base(), "n1", &execution.Delta{Output: "final text"})
		assert.Nil(t, plain.LastAgentOutput)

		written := execution.Merge(base(), "n1", &execution.Delta{Output: "final text", WriteLastOutput: true})
		assert.Equal(t, "final text", written.LastAgentOutput)
	})
}

func TestFromMap_RoundTrip(t *testing.T) {
	t.Run("restores a typed snapshot", func(t *testing.T) {
		s := execution.NewState(map[string]interface{}{"x": "v"})
		s.Messages = append(s.Messages, execution.Message{Role: "user", Content: "hi"})
		s.NodeOutputs["n1"] = "out"
		s.Context["c"] = 1

		restored := execution.FromMap(map[string]interface{}{
			"messages":          s.Messages,
			"context":           s.Context,
			"_node_outputs":     s.NodeOutputs,
			"state":             s.Vars,
			"last_agent_output": "tail",
		})

		assert.Equal(t, s.Messages, restored.Messages)
		assert.Equal(t, "v", restored.Vars["x"])
		assert.Equal(t, "out", restored.NodeOutputs["n1"])
		assert.Equal(t, "tail", restored.LastAgentOutput)
	})

	t.Run("restores a JSON-decoded snapshot", func(t *testing.T) {
		restored := execution.FromMap(map[string]interface{}{
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": "hi"},
			},
			"state": map[string]interface{}{"x": "v"},
		})

		require.Len(t, restored.Messages, 1)
		assert.Equal(t, "user", restored.Messages[0].Role)
		assert.Equal(t, "hi", restored.Messages[0].Content)
		assert.Equal(t, "v", restored.Vars["x"])
	})

	t.Run("nil values produce an empty state", func(t *testing.T) {
		restored := execution.FromMap(nil)
		assert.Empty(t, restored.Messages)
		assert.Empty(t, restored.Vars)
	})
}

func TestInferVisibility(t *testing.T) {
	assert.Equal(t, execution.VisibilityClientSafe, execution.InferVisibility(execution.KindToken))
	assert.Equal(t, execution.VisibilityClientSafe, execution.InferVisibility(execution.KindRunStatus))
	assert.Equal(t, execution.VisibilityClientSafe, execution.InferVisibility(execution.KindError))
	assert.Equal(t, execution.VisibilityInternal, execution.InferVisibility(execution.KindNodeStart))
	assert.Equal(t, execution.VisibilityInternal, execution.InferVisibility(execution.KindOrchestrationJoinDecision))
	assert.Equal(t, execution.VisibilityInternal, execution.InferVisibility("unknown_kind"))
}
