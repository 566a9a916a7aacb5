package orchestration_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchapp "github.com/agentkernel/agentkernel/internal/application/orchestration"
	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/domain/orchestration"
	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/infrastructure/persistence/memory"
)

// recordingEmitter captures orchestration lifecycle events by kind.
type recordingEmitter struct {
	mu     sync.Mutex
	events map[string][]map[string]interface{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{events: make(map[string][]map[string]interface{})}
}

func (r *recordingEmitter) record(kind string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[kind] = append(r.events[kind], data)
}

func (r *recordingEmitter) EmitSpawnDecision(data map[string]interface{}) { r.record("spawn", data) }
func (r *recordingEmitter) EmitChildLifecycle(data map[string]interface{}) {
	r.record("lifecycle", data)
}
func (r *recordingEmitter) EmitJoinDecision(data map[string]interface{}) { r.record("join", data) }
func (r *recordingEmitter) EmitCancellationPropagation(data map[string]interface{}) {
	r.record("cancellation", data)
}
func (r *recordingEmitter) EmitPolicyDeny(data map[string]interface{}) { r.record("deny", data) }

func (r *recordingEmitter) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[kind])
}

func (r *recordingEmitter) last(kind string) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events[kind]
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

// fixture wires a Kernel over in-memory repositories. The starter is a
// no-op by default (children stay queued); tests flip member runs to
// terminal statuses directly to script join outcomes.
type fixture struct {
	kernel  *orchapp.Kernel
	runs    *memory.RunRepository
	groups  *memory.GroupRepository
	grants  *memory.GrantRepository
	emitter *recordingEmitter
	parent  *run.Run
}

func newFixture(t *testing.T, parentScopes []string) *fixture {
	t.Helper()
	ctx := context.Background()

	runs := memory.NewRunRepository()
	groups := memory.NewGroupRepository()
	grants := memory.NewGrantRepository()
	emitter := newRecordingEmitter()

	parent, err := run.NewRun("tenant-1", "orchestrator", "1", nil)
	require.NoError(t, err)
	require.NoError(t, parent.Start())
	require.NoError(t, runs.Save(ctx, parent))

	if parentScopes != nil {
		grant, err := orchestration.NewRootGrant("user-1", "token", parentScopes)
		require.NoError(t, err)
		grant = orchestration.ReconstructGrant(grant.ID(), "user-1", parent.ID(), "token", parentScopes, grant.CreatedAt())
		require.NoError(t, grants.Save(ctx, grant))
	}

	kernel := orchapp.NewKernel(runs, groups, grants, emitter, func(ctx context.Context, childRunID string) {})
	return &fixture{kernel: kernel, runs: runs, groups: groups, grants: grants, emitter: emitter, parent: parent}
}

func (f *fixture) spawn(t *testing.T, key string) string {
	t.Helper()
	childID, err := f.kernel.SpawnRun(context.Background(), "tenant-1", f.parent.ID(), f.parent.Depth(), execution.SpawnRunRequest{
		AgentID:  "worker-agent",
		SpawnKey: key,
	})
	require.NoError(t, err)
	return childID
}

func (f *fixture) finish(t *testing.T, runID string, terminal run.Status) {
	t.Helper()
	ctx := context.Background()
	r, err := f.runs.FindByID(ctx, runID)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	switch terminal {
	case run.StatusCompleted:
		require.NoError(t, r.Complete(map[string]interface{}{"ok": true}))
	case run.StatusFailed:
		require.NoError(t, r.Fail("boom"))
	}
	require.NoError(t, f.runs.Update(ctx, r))
}

func TestKernel_SpawnRun(t *testing.T) {
	t.Run("embeds lineage from the parent", func(t *testing.T) {
		f := newFixture(t, nil)
		childID := f.spawn(t, "task:0")

		child, err := f.runs.FindByID(context.Background(), childID)
		require.NoError(t, err)
		assert.Equal(t, f.parent.ID(), child.ParentRunID())
		assert.Equal(t, f.parent.RootRunID(), child.RootRunID())
		assert.Equal(t, f.parent.Depth()+1, child.Depth())
		assert.Equal(t, "task:0", child.SpawnKey())
	})

	t.Run("is idempotent on (parent, spawn_key)", func(t *testing.T) {
		f := newFixture(t, nil)
		first := f.spawn(t, "task:0")
		second := f.spawn(t, "task:0")

		assert.Equal(t, first, second)
		decision := f.emitter.last("spawn")
		assert.Equal(t, "idempotent_replay", decision["decision"])
	})

	t.Run("distinct spawn keys create distinct children", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.NotEqual(t, f.spawn(t, "task:0"), f.spawn(t, "task:1"))
	})

	t.Run("rejects scopes outside the parent grant", func(t *testing.T) {
		f := newFixture(t, []string{"read", "write"})

		_, err := f.kernel.SpawnRun(context.Background(), "tenant-1", f.parent.ID(), 0, execution.SpawnRunRequest{
			AgentID:         "worker-agent",
			SpawnKey:        "bad",
			RequestedScopes: []string{"read", "admin"},
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "scope_not_subset")
		deny := f.emitter.last("deny")
		require.NotNil(t, deny, "policy deny event should be emitted")
		assert.Equal(t, "scope_not_subset", deny["reason"])

		_, err = f.runs.FindByParentAndSpawnKey(context.Background(), f.parent.ID(), "bad")
		require.Error(t, err, "no child run may be created on a scope violation")
	})

	t.Run("mints a child grant that is a scope subset", func(t *testing.T) {
		f := newFixture(t, []string{"read", "write"})
		childID, err := f.kernel.SpawnRun(context.Background(), "tenant-1", f.parent.ID(), 0, execution.SpawnRunRequest{
			AgentID:         "worker-agent",
			SpawnKey:        "ok",
			RequestedScopes: []string{"read"},
		})
		require.NoError(t, err)

		child, err := f.runs.FindByID(context.Background(), childID)
		require.NoError(t, err)
		require.NotEmpty(t, child.DelegationGrantID())

		childGrant, err := f.grants.FindByID(context.Background(), child.DelegationGrantID())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"read"}, childGrant.EffectiveScopes())
	})

	t.Run("enforces the subtree depth limit", func(t *testing.T) {
		f := newFixture(t, nil)
		f.kernel.WithLimits(orchapp.Limits{MaxSubtreeDepth: 1})

		childID := f.spawn(t, "task:0")

		_, err := f.kernel.SpawnRun(context.Background(), "tenant-1", childID, 1, execution.SpawnRunRequest{
			AgentID: "worker-agent", SpawnKey: "grandchild",
		})
		require.Error(t, err)
		assert.Equal(t, "max_subtree_depth_exceeded", f.emitter.last("deny")["reason"])
	})

	t.Run("enforces the children per parent limit", func(t *testing.T) {
		f := newFixture(t, nil)
		f.kernel.WithLimits(orchapp.Limits{MaxChildrenPerParent: 2})

		f.spawn(t, "task:0")
		f.spawn(t, "task:1")
		_, err := f.kernel.SpawnRun(context.Background(), "tenant-1", f.parent.ID(), 0, execution.SpawnRunRequest{
			AgentID: "worker-agent", SpawnKey: "task:2",
		})
		require.Error(t, err)
		assert.Equal(t, "max_children_per_parent_exceeded", f.emitter.last("deny")["reason"])
	})
}

func spawnGroup(t *testing.T, f *fixture, n int, policy execution.SpawnGroupRequest) (string, []string) {
	t.Helper()
	members := make([]execution.SpawnRunRequest, n)
	for i := range members {
		members[i] = execution.SpawnRunRequest{AgentID: "worker-agent", SpawnKey: "fanout:" + string(rune('0'+i))}
	}
	policy.Members = members

	groupID, err := f.kernel.SpawnGroup(context.Background(), "tenant-1", f.parent.ID(), 0, policy)
	require.NoError(t, err)

	ms, err := f.groups.Members(context.Background(), groupID)
	require.NoError(t, err)
	require.Len(t, ms, n)
	ids := make([]string, n)
	for i, m := range ms {
		require.Equal(t, i, m.Ordinal, "members keep spawn order")
		ids[i] = m.RunID
	}
	return groupID, ids
}

func TestKernel_Join(t *testing.T) {
	t.Run("quorum completes at the threshold and cancels stragglers", func(t *testing.T) {
		f := newFixture(t, nil)
		groupID, ids := spawnGroup(t, f, 5, execution.SpawnGroupRequest{JoinMode: "quorum", QuorumThreshold: 3})

		f.finish(t, ids[0], run.StatusCompleted)
		f.finish(t, ids[1], run.StatusCompleted)
		f.finish(t, ids[2], run.StatusCompleted)

		result, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)

		assert.Equal(t, "completed", result["status"])
		assert.Equal(t, true, result["complete"])
		assert.Equal(t, 3, result["success_count"])
		assert.Equal(t, true, result["cancellation_propagated"])
		assert.ElementsMatch(t, []string{ids[3], ids[4]}, result["cancelled_run_ids"])

		for _, id := range []string{ids[3], ids[4]} {
			r, err := f.runs.FindByID(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, run.StatusCancelled, r.Status())
			assert.Equal(t, "join_quorum_reached", r.ErrorMessage())
		}

		assert.Equal(t, 1, f.emitter.count("cancellation"), "exactly one cancellation propagation event")
	})

	t.Run("fail_fast fails on the first member failure", func(t *testing.T) {
		f := newFixture(t, nil)
		groupID, ids := spawnGroup(t, f, 3, execution.SpawnGroupRequest{JoinMode: "fail_fast"})

		f.finish(t, ids[1], run.StatusFailed)

		result, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)

		assert.Equal(t, "failed", result["status"])
		for _, id := range []string{ids[0], ids[2]} {
			r, err := f.runs.FindByID(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, run.StatusCancelled, r.Status())
			assert.Equal(t, "join_fail_fast", r.ErrorMessage())
		}
	})

	t.Run("first_success completes on the first success", func(t *testing.T) {
		f := newFixture(t, nil)
		groupID, ids := spawnGroup(t, f, 3, execution.SpawnGroupRequest{JoinMode: "first_success"})

		f.finish(t, ids[2], run.StatusCompleted)

		result, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)

		assert.Equal(t, "completed", result["status"])
		assert.Equal(t, 1, result["success_count"])
		cancelled, _ := result["cancelled_run_ids"].([]string)
		assert.Len(t, cancelled, 2)
	})

	t.Run("best_effort reports completed_with_errors", func(t *testing.T) {
		f := newFixture(t, nil)
		groupID, ids := spawnGroup(t, f, 3, execution.SpawnGroupRequest{JoinMode: "best_effort"})

		f.finish(t, ids[0], run.StatusCompleted)
		f.finish(t, ids[1], run.StatusFailed)
		f.finish(t, ids[2], run.StatusCompleted)

		result, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)

		assert.Equal(t, "completed_with_errors", result["status"])
		assert.Equal(t, 2, result["success_count"])
		assert.Equal(t, 1, result["failure_count"])
		assert.Nil(t, result["cancelled_run_ids"])
	})

	t.Run("best_effort with no failures completes clean", func(t *testing.T) {
		f := newFixture(t, nil)
		groupID, ids := spawnGroup(t, f, 2, execution.SpawnGroupRequest{JoinMode: "best_effort"})

		f.finish(t, ids[0], run.StatusCompleted)
		f.finish(t, ids[1], run.StatusCompleted)

		result, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)
		assert.Equal(t, "completed", result["status"])
	})

	t.Run("timeout cancels non-terminal members with join_timed_out", func(t *testing.T) {
		f := newFixture(t, nil)
		groupID, ids := spawnGroup(t, f, 2, execution.SpawnGroupRequest{JoinMode: "best_effort", TimeoutSeconds: 1})

		f.finish(t, ids[0], run.StatusCompleted)
		// ids[1] never terminates; the join deadline fires.

		result, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)

		assert.Equal(t, "timed_out", result["status"])
		r, err := f.runs.FindByID(context.Background(), ids[1])
		require.NoError(t, err)
		assert.Equal(t, run.StatusCancelled, r.Status())
		assert.Equal(t, "join_timed_out", r.ErrorMessage())
	})

	t.Run("group terminal status is absorbing across repeated joins", func(t *testing.T) {
		f := newFixture(t, nil)
		groupID, ids := spawnGroup(t, f, 1, execution.SpawnGroupRequest{JoinMode: "best_effort"})

		f.finish(t, ids[0], run.StatusCompleted)

		first, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)
		second, err := f.kernel.Join(context.Background(), groupID)
		require.NoError(t, err)
		assert.Equal(t, first["status"], second["status"])

		g, err := f.groups.FindByID(context.Background(), groupID)
		require.NoError(t, err)
		require.NotNil(t, g.CompletedAt())
	})
}

func TestKernel_CancelSubtree(t *testing.T) {
	t.Run("cancels descendants breadth-first", func(t *testing.T) {
		f := newFixture(t, nil)
		childID := f.spawn(t, "task:0")

		grandchildID, err := f.kernel.SpawnRun(context.Background(), "tenant-1", childID, 1, execution.SpawnRunRequest{
			AgentID: "worker-agent", SpawnKey: "sub:0",
		})
		require.NoError(t, err)

		require.NoError(t, f.kernel.CancelSubtree(context.Background(), f.parent.ID(), false, "operator_requested"))

		for _, id := range []string{childID, grandchildID} {
			r, err := f.runs.FindByID(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, run.StatusCancelled, r.Status())
			assert.Equal(t, "operator_requested", r.ErrorMessage())
		}

		parent, err := f.runs.FindByID(context.Background(), f.parent.ID())
		require.NoError(t, err)
		assert.Equal(t, run.StatusRunning, parent.Status(), "include_root=false leaves the root alone")
	})

	t.Run("include_root flags the root for cooperative cancellation", func(t *testing.T) {
		f := newFixture(t, nil)
		f.spawn(t, "task:0")

		require.NoError(t, f.kernel.CancelSubtree(context.Background(), f.parent.ID(), true, "shutdown"))

		parent, err := f.runs.FindByID(context.Background(), f.parent.ID())
		require.NoError(t, err)
		assert.True(t, parent.IsCancelled(), "running root converges via its cancellation flag")
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := newFixture(t, nil)
		childID := f.spawn(t, "task:0")

		require.NoError(t, f.kernel.CancelSubtree(context.Background(), f.parent.ID(), false, "first"))
		require.NoError(t, f.kernel.CancelSubtree(context.Background(), f.parent.ID(), false, "second"))

		r, err := f.runs.FindByID(context.Background(), childID)
		require.NoError(t, err)
		assert.Equal(t, "first", r.ErrorMessage(), "a terminal run is not re-cancelled")
	})
}

func TestKernel_EvaluateAndReplan(t *testing.T) {
	t.Run("no failed children suggests continue", func(t *testing.T) {
		f := newFixture(t, nil)
		childID := f.spawn(t, "task:0")
		f.finish(t, childID, run.StatusCompleted)

		out, err := f.kernel.EvaluateAndReplan(context.Background(), f.parent.ID())
		require.NoError(t, err)

		assert.Equal(t, false, out["needs_replan"])
		assert.Equal(t, "continue", out["suggested_action"])
		assert.Empty(t, out["failed_children"])
	})

	t.Run("a failed child flips needs_replan and names it", func(t *testing.T) {
		f := newFixture(t, nil)
		okID := f.spawn(t, "task:0")
		badID := f.spawn(t, "task:1")
		f.finish(t, okID, run.StatusCompleted)
		f.finish(t, badID, run.StatusFailed)

		out, err := f.kernel.EvaluateAndReplan(context.Background(), f.parent.ID())
		require.NoError(t, err)

		assert.Equal(t, true, out["needs_replan"])
		assert.Equal(t, "replan", out["suggested_action"])
		assert.Equal(t, []string{badID}, out["failed_children"])
	})

	t.Run("is a pure inspection, child statuses are untouched", func(t *testing.T) {
		f := newFixture(t, nil)
		badID := f.spawn(t, "task:0")
		runningID := f.spawn(t, "task:1")
		f.finish(t, badID, run.StatusFailed)

		_, err := f.kernel.EvaluateAndReplan(context.Background(), f.parent.ID())
		require.NoError(t, err)

		still, err := f.runs.FindByID(context.Background(), runningID)
		require.NoError(t, err)
		assert.False(t, still.Status().IsTerminal())
	})
}
