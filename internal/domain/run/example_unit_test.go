package run_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/domain/run"
)

func TestRun_Creation(t *testing.T) {
	t.Run("creates a root run with queued status", func(t *testing.T) {
		r, err := run.NewRun("tenant-1", "agent-1", "v1", map[string]interface{}{"message": "test"})

		require.NoError(t, err)
		assert.NotEmpty(t, r.ID())
		assert.Equal(t, run.StatusQueued, r.Status())
		assert.True(t, r.IsRoot())
		assert.Equal(t, r.ID(), r.RootRunID())
		assert.Equal(t, 0, r.Depth())
	})

	t.Run("rejects run with empty tenant id", func(t *testing.T) {
		_, err := run.NewRun("", "agent-1", "v1", nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "tenant_id")
	})

	t.Run("child run embeds lineage from parent", func(t *testing.T) {
		parent, err := run.NewRun("tenant-1", "agent-1", "v1", nil)
		require.NoError(t, err)

		child, err := run.NewChildRun("tenant-1", "agent-2", "v1", nil, run.Lineage{
			RootRunID:    parent.RootRunID(),
			ParentRunID:  parent.ID(),
			ParentNodeID: "spawn-node",
			Depth:        parent.Depth() + 1,
			SpawnKey:     "fanout:0",
		})

		require.NoError(t, err)
		assert.False(t, child.IsRoot())
		assert.Equal(t, parent.RootRunID(), child.RootRunID())
		assert.Equal(t, parent.ID(), child.ParentRunID())
		assert.Equal(t, parent.Depth()+1, child.Depth())
	})

	t.Run("rejects child run without a parent id", func(t *testing.T) {
		_, err := run.NewChildRun("tenant-1", "agent-1", "v1", nil, run.Lineage{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parent_run_id")
	})
}

func TestRun_StateTransitions(t *testing.T) {
	t.Run("transitions from queued to running", func(t *testing.T) {
		r := mustNewRun(t)

		require.NoError(t, r.Start())
		assert.Equal(t, run.StatusRunning, r.Status())
		require.NotNil(t, r.StartedAt())
	})

	t.Run("transitions from running to completed with output", func(t *testing.T) {
		r := mustNewRun(t)
		require.NoError(t, r.Start())

		output := map[string]interface{}{"final_output": "got v"}
		require.NoError(t, r.Complete(output))

		assert.Equal(t, run.StatusCompleted, r.Status())
		assert.Equal(t, output, r.OutputResult())
		require.NotNil(t, r.CompletedAt())
	})

	t.Run("pause then resume returns to running", func(t *testing.T) {
		r := mustNewRun(t)
		require.NoError(t, r.Start())
		require.NoError(t, r.Pause("human_input_1"))
		assert.Equal(t, run.StatusPaused, r.Status())

		require.NoError(t, r.Resume(map[string]interface{}{"approval": "approve"}))
		assert.Equal(t, run.StatusRunning, r.Status())
	})

	t.Run("rejects starting an already completed run", func(t *testing.T) {
		r := mustNewRun(t)
		require.NoError(t, r.Start())
		require.NoError(t, r.Complete(nil))

		err := r.Start()
		require.Error(t, err)
	})

	t.Run("terminal status is absorbing", func(t *testing.T) {
		r := mustNewRun(t)
		require.NoError(t, r.Start())
		require.NoError(t, r.Fail("boom"))

		assert.True(t, r.Status().IsTerminal())
		assert.Error(t, r.Cancel("too late"))
		assert.Error(t, r.Resume(nil))
	})
}

func TestRun_EventEmission(t *testing.T) {
	t.Run("emits RunCreated event on creation", func(t *testing.T) {
		r := mustNewRun(t)

		events := r.Events()
		require.Len(t, events, 1)
		_, ok := events[0].(run.RunCreated)
		assert.True(t, ok, "expected RunCreated event")
	})

	t.Run("emits RunStarted event on start", func(t *testing.T) {
		r := mustNewRun(t)
		r.ClearEvents()

		require.NoError(t, r.Start())

		events := r.Events()
		require.Len(t, events, 1)
		_, ok := events[0].(run.RunStarted)
		assert.True(t, ok, "expected RunStarted event")
	})

	t.Run("Reconstruct rebuilds state from events", func(t *testing.T) {
		r := mustNewRun(t)
		require.NoError(t, r.Start())
		require.NoError(t, r.Complete(map[string]interface{}{"x": 1}))

		rebuilt, err := run.Reconstruct(r.Events())
		require.NoError(t, err)
		assert.Equal(t, r.ID(), rebuilt.ID())
		assert.Equal(t, run.StatusCompleted, rebuilt.Status())
		assert.Equal(t, r.OutputResult(), rebuilt.OutputResult())
	})
}

func mustNewRun(t *testing.T) *run.Run {
	t.Helper()
	r, err := run.NewRun("tenant-1", "agent-1", "v1", map[string]interface{}{"test": true})
	require.NoError(t, err)
	return r
}
