package streaming_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/streaming"
)

// sampleStream is the six-event sequence from the production-filter
// scenario: node_start, token, on_tool_start, on_tool_end, token,
// run_status.
func sampleStream() []execution.ExecutionEvent {
	return []execution.ExecutionEvent{
		execution.NewExecutionEvent(execution.KindNodeStart, "run-1", map[string]interface{}{"node_id": "n1"}),
		execution.NewExecutionEvent(execution.KindToken, "run-1", map[string]interface{}{"content": "hi"}),
		execution.NewExecutionEvent(execution.KindOnToolStart, "run-1", map[string]interface{}{"tool": "search"}),
		execution.NewExecutionEvent(execution.KindOnToolEnd, "run-1", map[string]interface{}{"tool": "search"}),
		execution.NewExecutionEvent(execution.KindToken, "run-1", map[string]interface{}{"content": " done"}),
		execution.NewExecutionEvent(execution.KindRunStatus, "run-1", map[string]interface{}{"status": "completed"}),
	}
}

func applyAll(f *streaming.StreamFilter, events []execution.ExecutionEvent) []execution.ExecutionEvent {
	var out []execution.ExecutionEvent
	for _, e := range events {
		out = append(out, f.Apply(e)...)
	}
	return out
}

func TestStreamFilter_ProductionMode(t *testing.T) {
	t.Run("delivers only client_safe events", func(t *testing.T) {
		out := applyAll(streaming.NewStreamFilter(streaming.ModeProduction), sampleStream())

		require.Len(t, out, 3)
		assert.Equal(t, execution.KindToken, out[0].Event)
		assert.Equal(t, "hi", out[0].Data["content"])
		assert.Equal(t, execution.KindToken, out[1].Event)
		assert.Equal(t, " done", out[1].Data["content"])
		assert.Equal(t, execution.KindRunStatus, out[2].Event)
	})

	t.Run("no internal event ever reaches the consumer", func(t *testing.T) {
		out := applyAll(streaming.NewStreamFilter(streaming.ModeProduction), sampleStream())

		for _, e := range out {
			assert.Equal(t, execution.VisibilityClientSafe, e.Visibility)
		}
	})

	t.Run("reasoning synthesis only with explicit opt-in", func(t *testing.T) {
		plain := applyAll(streaming.NewStreamFilter(streaming.ModeProduction), sampleStream())
		assert.Equal(t, 0, countKind(plain, execution.KindReasoning))

		opted := applyAll(
			streaming.NewStreamFilter(streaming.ModeProduction).WithReasoningInProduction(true),
			sampleStream(),
		)
		assert.Equal(t, 2, countKind(opted, execution.KindReasoning))
	})
}

func TestStreamFilter_DebugMode(t *testing.T) {
	t.Run("delivers every event plus synthesized reasoning", func(t *testing.T) {
		out := applyAll(streaming.NewStreamFilter(streaming.ModeDebug), sampleStream())

		// six originals plus one reasoning per tool lifecycle event
		require.Len(t, out, 8)
		assert.Equal(t, 2, countKind(out, execution.KindReasoning))
	})

	t.Run("synthesized reasoning carries active/complete status", func(t *testing.T) {
		f := streaming.NewStreamFilter(streaming.ModeDebug)

		start := f.Apply(execution.NewExecutionEvent(execution.KindOnToolStart, "run-1", map[string]interface{}{"tool": "search"}))
		require.Len(t, start, 2)
		assert.Equal(t, "active", start[1].Data["status"])
		assert.Equal(t, execution.VisibilityClientSafe, start[1].Visibility)

		end := f.Apply(execution.NewExecutionEvent(execution.KindOnToolEnd, "run-1", map[string]interface{}{"tool": "search"}))
		require.Len(t, end, 2)
		assert.Equal(t, "complete", end[1].Data["status"])
	})
}

func TestNormalize_InfersVisibility(t *testing.T) {
	t.Run("fills in visibility when unset", func(t *testing.T) {
		e := streaming.Normalize(execution.ExecutionEvent{Event: execution.KindToken, RunID: "run-1"})
		assert.Equal(t, execution.VisibilityClientSafe, e.Visibility)
	})

	t.Run("unknown kinds default to internal", func(t *testing.T) {
		e := streaming.Normalize(execution.ExecutionEvent{Event: "something_new", RunID: "run-1"})
		assert.Equal(t, execution.VisibilityInternal, e.Visibility)
	})

	t.Run("an explicit visibility is preserved", func(t *testing.T) {
		e := streaming.Normalize(execution.ExecutionEvent{
			Event: execution.KindNodeStart, RunID: "run-1", Visibility: execution.VisibilityClientSafe,
		})
		assert.Equal(t, execution.VisibilityClientSafe, e.Visibility)
	})
}

func countKind(events []execution.ExecutionEvent, kind string) int {
	n := 0
	for _, e := range events {
		if e.Event == kind {
			n++
		}
	}
	return n
}
