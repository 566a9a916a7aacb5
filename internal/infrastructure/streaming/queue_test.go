package streaming_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/streaming"
)

func TestBoundedQueue_OverflowDropsWithoutBlocking(t *testing.T) {
	q := streaming.NewBoundedQueue("run-1", 2)

	// Push well past capacity from the producer side with no consumer
	// attached: every call must return immediately.
	for i := 0; i < 10; i++ {
		q.Push(execution.NewExecutionEvent(execution.KindToken, "run-1", map[string]interface{}{"i": i}))
	}
	q.Close()

	var received []execution.ExecutionEvent
	for e := range q.Chan() {
		received = append(received, e)
	}

	require.Len(t, received, 2, "only the first <capacity> events survive; the rest are dropped")
	assert.Equal(t, 0, received[0].Data["i"])
	assert.Equal(t, 1, received[1].Data["i"])
}

func TestBoundedQueue_DefaultCapacity(t *testing.T) {
	q := streaming.NewBoundedQueue("run-1", 0)

	for i := 0; i < 1000; i++ {
		q.Push(execution.NewExecutionEvent(execution.KindToken, "run-1", nil))
	}
	// the 1001st is dropped, not blocked on
	q.Push(execution.NewExecutionEvent(execution.KindToken, "run-1", nil))
	q.Close()

	n := 0
	for range q.Chan() {
		n++
	}
	assert.Equal(t, 1000, n)
}

func TestEmitter_TagsEventsWithRunAndVisibility(t *testing.T) {
	q := streaming.NewBoundedQueue("run-7", 16)
	em := streaming.NewEmitter(q)

	em.EmitToken("hel", "node-1", "span-1")
	em.EmitToolStart("node-1", "search", map[string]interface{}{"q": "x"})
	em.EmitToolEnd("node-1", "search", map[string]interface{}{"hits": 3}, 2, nil)
	em.EmitError("node-1", assert.AnError)
	em.EmitPolicyDeny(map[string]interface{}{"reason": "scope_not_subset"})
	q.Close()

	var events []execution.ExecutionEvent
	for e := range q.Chan() {
		events = append(events, e)
	}
	require.Len(t, events, 5)

	assert.Equal(t, execution.KindToken, events[0].Event)
	assert.Equal(t, "run-7", events[0].RunID)
	assert.Equal(t, "span-1", events[0].SpanID)
	assert.Equal(t, execution.VisibilityClientSafe, events[0].Visibility)

	assert.Equal(t, execution.KindOnToolStart, events[1].Event)
	assert.Equal(t, execution.VisibilityInternal, events[1].Visibility)

	assert.Equal(t, execution.KindOnToolEnd, events[2].Event)
	assert.Equal(t, 2, events[2].Data["attempt_count"])
	assert.Nil(t, events[2].Data["error"])

	assert.Equal(t, execution.KindError, events[3].Event)
	assert.Equal(t, execution.VisibilityClientSafe, events[3].Visibility)

	assert.Equal(t, execution.KindOrchestrationPolicyDeny, events[4].Event)
	assert.Equal(t, execution.VisibilityInternal, events[4].Visibility)
}
