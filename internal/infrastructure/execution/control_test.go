package execution_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainexec "github.com/agentkernel/agentkernel/internal/domain/execution"
	infraexec "github.com/agentkernel/agentkernel/internal/infrastructure/execution"
)

func stateWith(vars map[string]interface{}) *domainexec.State {
	return domainexec.NewState(vars)
}

func TestEndExecutor(t *testing.T) {
	t.Run("renders an output template over state", func(t *testing.T) {
		e := &infraexec.EndExecutor{}
		state := stateWith(map[string]interface{}{"x": "v"})

		d, err := e.Execute(context.Background(), "end", state, map[string]interface{}{
			"output": "got {{state.x}}",
		}, nil)

		require.NoError(t, err)
		require.NotNil(t, d.FinalOutput)
		assert.Equal(t, "got v", d.FinalOutput["final_output"])
	})

	t.Run("maps named outputs from node results", func(t *testing.T) {
		e := &infraexec.EndExecutor{}
		state := stateWith(nil)
		state.NodeOutputs["search"] = map[string]interface{}{"hits": 3}

		d, err := e.Execute(context.Background(), "end", state, map[string]interface{}{
			"output_mapping": map[string]interface{}{"result": "node_outputs.search.hits"},
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, 3, d.FinalOutput["result"])
	})

	t.Run("falls back to the full state vars", func(t *testing.T) {
		e := &infraexec.EndExecutor{}
		d, err := e.Execute(context.Background(), "end", stateWith(map[string]interface{}{"a": 1}), map[string]interface{}{}, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, d.FinalOutput["a"])
	})
}

func TestSetStateExecutor(t *testing.T) {
	t.Run("assigns literals and templates without touching messages", func(t *testing.T) {
		e := &infraexec.SetStateExecutor{}
		state := stateWith(map[string]interface{}{"name": "ada"})

		d, err := e.Execute(context.Background(), "set", state, map[string]interface{}{
			"assignments": map[string]interface{}{
				"greeting": "hi {{state.name}}",
				"count":    float64(3),
			},
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "hi ada", d.Vars["greeting"])
		assert.Equal(t, float64(3), d.Vars["count"])
		assert.Empty(t, d.Messages)
	})

	t.Run("does not mutate the input state", func(t *testing.T) {
		e := &infraexec.SetStateExecutor{}
		state := stateWith(map[string]interface{}{"name": "ada"})

		_, err := e.Execute(context.Background(), "set", state, map[string]interface{}{
			"assignments": map[string]interface{}{"name": "grace"},
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "ada", state.Vars["name"])
	})
}

func TestTransformExecutor(t *testing.T) {
	t.Run("reshapes state into a node output", func(t *testing.T) {
		e := &infraexec.TransformExecutor{}
		state := stateWith(map[string]interface{}{"a": "x"})
		state.Context["prev"] = map[string]interface{}{"score": 0.9}

		d, err := e.Execute(context.Background(), "t1", state, map[string]interface{}{
			"mapping": map[string]interface{}{
				"first":  "state.a",
				"second": "context.prev.score",
			},
		}, nil)

		require.NoError(t, err)
		out, ok := d.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "x", out["first"])
		assert.Equal(t, 0.9, out["second"])
	})

	t.Run("optionally writes back to a state key", func(t *testing.T) {
		e := &infraexec.TransformExecutor{}
		d, err := e.Execute(context.Background(), "t1", stateWith(map[string]interface{}{"a": "x"}), map[string]interface{}{
			"mapping":            map[string]interface{}{"v": "state.a"},
			"write_to_state_key": "reshaped",
		}, nil)

		require.NoError(t, err)
		require.NotNil(t, d.Vars["reshaped"])
	})
}

func TestIfElseExecutor(t *testing.T) {
	e := &infraexec.IfElseExecutor{}

	t.Run("first matching condition wins, in declaration order", func(t *testing.T) {
		config := map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"branch": "vip", "expression": "state.is_vip"},
				map[string]interface{}{"branch": "paying", "expression": "state.has_plan"},
			},
		}

		d, err := e.Execute(context.Background(), "cond", stateWith(map[string]interface{}{
			"is_vip": true, "has_plan": true,
		}), config, nil)
		require.NoError(t, err)
		assert.Equal(t, "vip", d.BranchTaken)

		d, err = e.Execute(context.Background(), "cond", stateWith(map[string]interface{}{
			"is_vip": false, "has_plan": true,
		}), config, nil)
		require.NoError(t, err)
		assert.Equal(t, "paying", d.BranchTaken)
	})

	t.Run("no match falls through to else", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "cond", stateWith(nil), map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"branch": "vip", "expression": "state.is_vip"},
			},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "else", d.BranchTaken)
	})

	t.Run("a condition may route straight to a named node", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "cond", stateWith(map[string]interface{}{"flag": true}), map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"branch": "hit", "expression": "state.flag", "next": "escalate"},
			},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "hit", d.BranchTaken)
		assert.Equal(t, "escalate", d.Next)
	})

	t.Run("takes the true branch on a truthy condition", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "cond", stateWith(map[string]interface{}{"flag": true}), map[string]interface{}{
			"condition": "state.flag",
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "true", d.BranchTaken)
	})

	t.Run("takes the false branch on missing or falsy values", func(t *testing.T) {
		for _, vars := range []map[string]interface{}{
			{},
			{"flag": false},
			{"flag": ""},
		} {
			d, err := e.Execute(context.Background(), "cond", stateWith(vars), map[string]interface{}{
				"condition": "state.flag",
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, "false", d.BranchTaken)
		}
	})
}

func TestWhileExecutor(t *testing.T) {
	e := &infraexec.WhileExecutor{}

	t.Run("loops while the predicate holds and counts iterations", func(t *testing.T) {
		state := stateWith(map[string]interface{}{"more": true})

		d, err := e.Execute(context.Background(), "w", state, map[string]interface{}{"condition": "state.more"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "loop", d.BranchTaken)
		assert.Equal(t, 1, d.Vars["w__iteration"])
	})

	t.Run("exits when the predicate fails", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "w", stateWith(map[string]interface{}{"more": false}), map[string]interface{}{
			"condition": "state.more",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "exit", d.BranchTaken)
	})

	t.Run("exits at max_iterations regardless of the predicate", func(t *testing.T) {
		state := stateWith(map[string]interface{}{"more": true, "w__iteration": 2})

		d, err := e.Execute(context.Background(), "w", state, map[string]interface{}{
			"condition":      "state.more",
			"max_iterations": float64(2),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "exit", d.BranchTaken)
	})
}

func TestRouterExecutor(t *testing.T) {
	e := &infraexec.RouterExecutor{}
	config := map[string]interface{}{
		"key": "state.kind",
		"routes": map[string]interface{}{
			"invoice": "billing",
			"ticket":  "support",
		},
		"default": "triage",
	}

	t.Run("routes by exact match", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "r", stateWith(map[string]interface{}{"kind": "invoice"}), config, nil)
		require.NoError(t, err)
		assert.Equal(t, "billing", d.BranchTaken)
	})

	t.Run("falls back to default on no match", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "r", stateWith(map[string]interface{}{"kind": "other"}), config, nil)
		require.NoError(t, err)
		assert.Equal(t, "triage", d.BranchTaken)
	})
}

func TestUserApprovalExecutor(t *testing.T) {
	e := &infraexec.UserApprovalExecutor{}

	t.Run("approve branches approved", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "gate", stateWith(map[string]interface{}{"approval": "approve"}), map[string]interface{}{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "approved", d.BranchTaken)
		assert.Equal(t, true, d.Output)
	})

	t.Run("anything else branches rejected", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "gate", stateWith(map[string]interface{}{"approval": "deny"}), map[string]interface{}{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "rejected", d.BranchTaken)
	})

	t.Run("boolean payloads work too", func(t *testing.T) {
		d, err := e.Execute(context.Background(), "gate", stateWith(map[string]interface{}{"approval": true}), map[string]interface{}{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "approved", d.BranchTaken)
	})
}

func TestHumanInputExecutor(t *testing.T) {
	t.Run("folds the resume payload into the node output", func(t *testing.T) {
		e := &infraexec.HumanInputExecutor{}
		d, err := e.Execute(context.Background(), "wait", stateWith(map[string]interface{}{
			"human_input": "looks good",
		}), map[string]interface{}{}, nil)

		require.NoError(t, err)
		assert.Equal(t, "looks good", d.Output)
	})

	t.Run("honors a custom resume key", func(t *testing.T) {
		e := &infraexec.HumanInputExecutor{}
		d, err := e.Execute(context.Background(), "wait", stateWith(map[string]interface{}{
			"review_notes": "ship it",
		}), map[string]interface{}{"resume_key": "review_notes"}, nil)

		require.NoError(t, err)
		assert.Equal(t, "ship it", d.Output)
	})
}

// stubEmitter records tool lifecycle emissions for executor assertions.
type stubEmitter struct {
	toolEnds []map[string]interface{}
}

func (s *stubEmitter) EmitToken(content, nodeID, spanID string)                             {}
func (s *stubEmitter) EmitToolStart(nodeID, toolName string, input map[string]interface{}) {}
func (s *stubEmitter) EmitToolEnd(nodeID, toolName string, output map[string]interface{}, attemptCount int, err error) {
	entry := map[string]interface{}{"tool": toolName, "output": output, "attempt_count": attemptCount}
	if err != nil {
		entry["error"] = err.Error()
	}
	s.toolEnds = append(s.toolEnds, entry)
}
func (s *stubEmitter) EmitError(nodeID string, err error)   {}
func (s *stubEmitter) Emit(event domainexec.ExecutionEvent) {}

func TestToolExecutor(t *testing.T) {
	config := map[string]interface{}{"tool": "search"}

	t.Run("surfaces output and attempt count on on_tool_end", func(t *testing.T) {
		emitter := &stubEmitter{}
		execCtx := &domainexec.ExecutionContext{
			Emitter: emitter,
			InvokeTool: func(ctx context.Context, toolName string, input map[string]interface{}) (*domainexec.ToolResult, error) {
				return &domainexec.ToolResult{Output: map[string]interface{}{"y": 2}, AttemptCount: 2}, nil
			},
		}

		e := &infraexec.ToolExecutor{}
		d, err := e.Execute(context.Background(), "t", stateWith(nil), config, execCtx)

		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"y": 2}, d.Output)
		require.Len(t, emitter.toolEnds, 1)
		assert.Equal(t, 2, emitter.toolEnds[0]["attempt_count"])
	})

	t.Run("a continue-policy failure becomes the node output, not an error", func(t *testing.T) {
		execCtx := &domainexec.ExecutionContext{
			InvokeTool: func(ctx context.Context, toolName string, input map[string]interface{}) (*domainexec.ToolResult, error) {
				return &domainexec.ToolResult{
					AttemptCount: 3,
					ErrorPayload: map[string]interface{}{"error": "boom", "code": "tool_failure"},
				}, nil
			},
		}

		e := &infraexec.ToolExecutor{}
		d, err := e.Execute(context.Background(), "t", stateWith(nil), config, execCtx)

		require.NoError(t, err, "continue keeps the run alive")
		out, ok := d.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "tool_failure", out["code"])
	})

	t.Run("a fail_fast failure propagates to the engine", func(t *testing.T) {
		execCtx := &domainexec.ExecutionContext{
			InvokeTool: func(ctx context.Context, toolName string, input map[string]interface{}) (*domainexec.ToolResult, error) {
				return nil, assert.AnError
			},
		}

		e := &infraexec.ToolExecutor{}
		_, err := e.Execute(context.Background(), "t", stateWith(nil), config, execCtx)
		require.Error(t, err)
	})
}

func TestReplanExecutor(t *testing.T) {
	t.Run("branches on the kernel's suggested action", func(t *testing.T) {
		execCtx := &domainexec.ExecutionContext{
			RunID: "run-1",
			Replan: func(ctx context.Context, runID string) (map[string]interface{}, error) {
				assert.Equal(t, "run-1", runID)
				return map[string]interface{}{
					"needs_replan":     true,
					"failed_children":  []string{"child-2"},
					"suggested_action": "replan",
				}, nil
			},
		}

		e := &infraexec.ReplanExecutor{}
		d, err := e.Execute(context.Background(), "rp", stateWith(nil), map[string]interface{}{}, execCtx)

		require.NoError(t, err)
		assert.Equal(t, "replan", d.BranchTaken)
		verdict, ok := d.Output.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, verdict["needs_replan"])
	})
}

func TestClassifyExecutor(t *testing.T) {
	t.Run("branches on the classifier's label", func(t *testing.T) {
		e := &infraexec.ClassifyExecutor{
			Classify: func(ctx context.Context, model, prompt string, labels []string) (string, error) {
				assert.Contains(t, prompt, "refund")
				return "billing", nil
			},
		}

		d, err := e.Execute(context.Background(), "c", stateWith(map[string]interface{}{"msg": "please refund me"}), map[string]interface{}{
			"model":  "gpt-4o-mini",
			"prompt": "classify: {{state.msg}}",
			"labels": []interface{}{"billing", "support"},
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "billing", d.BranchTaken)
	})
}
