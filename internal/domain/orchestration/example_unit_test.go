package orchestration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/domain/orchestration"
)

func TestGrant_ScopeSubsetting(t *testing.T) {
	root, err := orchestration.NewRootGrant("user-1", "token", []string{"read", "write"})
	require.NoError(t, err)

	t.Run("child scopes are always a subset of the parent", func(t *testing.T) {
		child, err := root.MintChild([]string{"read"}, "child-token", "run-1")

		require.NoError(t, err)
		assert.True(t, child.IsSubsetOf(root))
		assert.True(t, child.HasScope("read"))
		assert.False(t, child.HasScope("write"))
		assert.Equal(t, "run-1", child.RunID())
	})

	t.Run("requesting a scope the parent lacks is rejected", func(t *testing.T) {
		_, err := root.MintChild([]string{"read", "admin"}, "child-token", "run-1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "scope_not_subset")
	})

	t.Run("grandchild narrows further, never widens", func(t *testing.T) {
		child, err := root.MintChild([]string{"read"}, "t1", "run-1")
		require.NoError(t, err)

		_, err = child.MintChild([]string{"write"}, "t2", "run-2")
		require.Error(t, err, "a scope dropped at one level cannot reappear below it")

		grandchild, err := child.MintChild([]string{"read"}, "t2", "run-2")
		require.NoError(t, err)
		assert.True(t, grandchild.IsSubsetOf(child))
		assert.True(t, grandchild.IsSubsetOf(root))
	})

	t.Run("empty request mints an empty grant", func(t *testing.T) {
		child, err := root.MintChild(nil, "t", "run-1")
		require.NoError(t, err)
		assert.Empty(t, child.EffectiveScopes())
	})
}

func TestGroup_StateMachine(t *testing.T) {
	newGroup := func(t *testing.T, policy orchestration.PolicySnapshot) *orchestration.Group {
		t.Helper()
		g, err := orchestration.NewGroup("tenant-1", "run-1", policy)
		require.NoError(t, err)
		return g
	}

	t.Run("starts running", func(t *testing.T) {
		g := newGroup(t, orchestration.PolicySnapshot{JoinMode: orchestration.JoinModeBestEffort})
		assert.Equal(t, orchestration.GroupStatusRunning, g.Status())
		assert.Nil(t, g.CompletedAt())
	})

	t.Run("transition to a terminal status stamps completed_at once", func(t *testing.T) {
		g := newGroup(t, orchestration.PolicySnapshot{JoinMode: orchestration.JoinModeBestEffort})

		require.NoError(t, g.Transition(orchestration.GroupStatusCompleted))
		require.NotNil(t, g.CompletedAt())
		first := *g.CompletedAt()

		err := g.Transition(orchestration.GroupStatusFailed)
		require.Error(t, err, "terminal is absorbing")
		assert.Equal(t, first, *g.CompletedAt())
	})

	t.Run("rejects a non-terminal transition target", func(t *testing.T) {
		g := newGroup(t, orchestration.PolicySnapshot{JoinMode: orchestration.JoinModeBestEffort})
		assert.Error(t, g.Transition(orchestration.GroupStatusRunning))
	})

	t.Run("quorum mode requires a positive threshold", func(t *testing.T) {
		_, err := orchestration.NewGroup("tenant-1", "run-1", orchestration.PolicySnapshot{
			JoinMode: orchestration.JoinModeQuorum,
		})
		require.Error(t, err)
	})

	t.Run("policy snapshot is frozen at creation", func(t *testing.T) {
		g := newGroup(t, orchestration.PolicySnapshot{
			JoinMode:        orchestration.JoinModeQuorum,
			QuorumThreshold: 3,
			FailurePolicy:   orchestration.FailurePolicyContinue,
			TimeoutSeconds:  60,
		})

		p := g.Policy()
		assert.Equal(t, orchestration.JoinModeQuorum, p.JoinMode)
		assert.Equal(t, 3, p.QuorumThreshold)
		assert.Equal(t, 60, p.TimeoutSeconds)
	})
}

func TestDelegationToken_RoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	t.Run("mint then verify returns the claims", func(t *testing.T) {
		token, err := orchestration.MintDelegationToken(secret, "user-1", "run-1", []string{"read"}, 0)
		require.NoError(t, err)

		claims, err := orchestration.VerifyDelegationToken(secret, token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.PrincipalID)
		assert.Equal(t, "run-1", claims.RunID)
		assert.Equal(t, []string{"read"}, claims.Scopes)
	})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		token, err := orchestration.MintDelegationToken(secret, "user-1", "run-1", []string{"read"}, 0)
		require.NoError(t, err)

		_, err = orchestration.VerifyDelegationToken([]byte("other-secret"), token)
		require.Error(t, err)
	})

	t.Run("empty secret cannot mint", func(t *testing.T) {
		_, err := orchestration.MintDelegationToken(nil, "user-1", "", nil, 0)
		require.Error(t, err)
	})
}

func TestMemberStatus_Terminality(t *testing.T) {
	assert.False(t, orchestration.MemberStatusRunning.IsTerminal())
	assert.True(t, orchestration.MemberStatusCompleted.IsTerminal())
	assert.True(t, orchestration.MemberStatusFailed.IsTerminal())
	assert.True(t, orchestration.MemberStatusCancelled.IsTerminal())
}
