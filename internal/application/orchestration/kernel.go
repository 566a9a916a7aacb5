// Package orchestration implements the Orchestration Kernel
// (SPEC_FULL.md §4.7): spawn_run, spawn_group, join, cancel_subtree and
// evaluate_and_replan. It is the piece the spawn_run/spawn_group/join/
// cancel_subtree node executors reach through
// execution.ExecutionContext's function-pointer fields — those executors
// never import this package directly, they only call the callbacks a
// Kernel installs at run-start time (see Kernel.ExecutionContext).
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/domain/orchestration"
	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
)

// RunStarter drives a child run to completion (or pause), asynchronously
// from the orchestrator's point of view. The application layer supplies
// this so Kernel never needs to import the Engine/RunService packages
// (which themselves depend on Kernel, hence the callback instead of a
// direct dependency).
type RunStarter func(ctx context.Context, childRunID string)

// Emitter is the narrow slice of streaming.Emitter the Kernel uses to
// surface orchestration-lifecycle events (SPEC_FULL.md §4.4).
type Emitter interface {
	EmitSpawnDecision(data map[string]interface{})
	EmitChildLifecycle(data map[string]interface{})
	EmitJoinDecision(data map[string]interface{})
	EmitCancellationPropagation(data map[string]interface{})
	EmitPolicyDeny(data map[string]interface{})
}

// pollInterval is how often Join re-checks member status while waiting for
// a join policy to be satisfied. Real deployments would drive this off of
// run-completion notifications instead of polling, but the domain model
// here has no such bus wired between Run aggregates and the Kernel, so the
// Kernel polls its own repository — matching the cron-driven safety-net
// sweep the teacher uses for analogous eventual-consistency cases.
const pollInterval = 50 * time.Millisecond

// Limits are the tenant-policy spawn bounds checked before a child run is
// created (SPEC_FULL.md §4.7). Zero means unlimited.
type Limits struct {
	MaxChildrenPerParent         int
	MaxSubtreeDepth              int
	MaxConcurrentChildrenPerRoot int
}

// DefaultLimits matches the policy defaults a fresh tenant gets.
var DefaultLimits = Limits{
	MaxChildrenPerParent:         50,
	MaxSubtreeDepth:              5,
	MaxConcurrentChildrenPerRoot: 100,
}

// Kernel implements the five orchestration operations over the
// orchestration/run domain repositories.
type Kernel struct {
	runs    run.Repository
	groups  orchestration.GroupRepository
	grants  orchestration.GrantRepository
	emitter Emitter
	start   RunStarter
	limits  Limits

	// tokenSecret signs the JWT embedded in each minted child Grant.
	tokenSecret []byte
}

// NewKernel wires the Kernel against its repositories, the streaming
// Emitter, and the callback used to actually drive a spawned child run.
// Child delegation tokens are signed with a per-process secret unless
// WithTokenSecret installs a shared one.
func NewKernel(runs run.Repository, groups orchestration.GroupRepository, grants orchestration.GrantRepository, emitter Emitter, start RunStarter) *Kernel {
	return &Kernel{
		runs: runs, groups: groups, grants: grants, emitter: emitter, start: start,
		limits:      DefaultLimits,
		tokenSecret: []byte(pkguuid.New()),
	}
}

// WithLimits overrides the spawn limit policy.
func (k *Kernel) WithLimits(limits Limits) *Kernel {
	k.limits = limits
	return k
}

// WithTokenSecret installs the signing secret for child delegation tokens,
// shared across processes that need to verify them.
func (k *Kernel) WithTokenSecret(secret []byte) *Kernel {
	if len(secret) > 0 {
		k.tokenSecret = secret
	}
	return k
}

// ExecutionContext returns the SpawnRun/SpawnGroup/Join/CancelSubtree
// callbacks an Engine.Run invocation should install on its
// execution.ExecutionContext for the given run, so spawn_run/spawn_group/
// join/cancel_subtree node executors can reach this Kernel.
func (k *Kernel) ExecutionContext(tenantID, parentRunID string, depth int) execution.ExecutionContext {
	return execution.ExecutionContext{
		RunID:    parentRunID,
		TenantID: tenantID,
		Depth:    depth,
		SpawnRun: func(ctx context.Context, req execution.SpawnRunRequest) (string, error) {
			return k.SpawnRun(ctx, tenantID, parentRunID, depth, req)
		},
		SpawnGroup: func(ctx context.Context, req execution.SpawnGroupRequest) (string, error) {
			return k.SpawnGroup(ctx, tenantID, parentRunID, depth, req)
		},
		Join: k.Join,
		CancelSubtree: func(ctx context.Context, runID string, includeRoot bool, reason string) error {
			return k.CancelSubtree(ctx, runID, includeRoot, reason)
		},
		Replan: k.EvaluateAndReplan,
	}
}

// SpawnRun implements spawn_run: idempotent on (parent_run_id, spawn_key),
// scope-checked via the parent's DelegationGrant, and fire-and-forget —
// the child run is started on its own goroutine via the RunStarter and
// SpawnRun returns as soon as the child Run aggregate exists
// (SPEC_FULL.md §4.7, invariant 5 in §8).
func (k *Kernel) SpawnRun(ctx context.Context, tenantID, parentRunID string, parentDepth int, req execution.SpawnRunRequest) (string, error) {
	if req.AgentID == "" {
		return "", errors.InvalidInput("agent_id", "spawn_run requires an agent_id")
	}

	if req.SpawnKey != "" {
		if existing, err := k.runs.FindByParentAndSpawnKey(ctx, parentRunID, req.SpawnKey); err == nil && existing != nil {
			k.emitter.EmitSpawnDecision(map[string]interface{}{
				"parent_run_id": parentRunID, "spawn_key": req.SpawnKey,
				"decision": "idempotent_replay", "run_id": existing.ID(),
			})
			return existing.ID(), nil
		}
	}

	parent, err := k.runs.FindByID(ctx, parentRunID)
	if err != nil {
		return "", errors.NotFound("run", parentRunID)
	}

	if err := k.checkSpawnLimits(ctx, parent); err != nil {
		return "", err
	}

	grantID := ""
	if parentGrant, err := k.grants.FindByRunID(ctx, parentRunID); err == nil && parentGrant != nil {
		childToken, err := orchestration.MintDelegationToken(k.tokenSecret, parentGrant.PrincipalID(), "", req.RequestedScopes, 0)
		if err != nil {
			return "", err
		}
		child, err := parentGrant.MintChild(req.RequestedScopes, childToken, "")
		if err != nil {
			k.emitter.EmitPolicyDeny(map[string]interface{}{
				"parent_run_id": parentRunID, "reason": "scope_not_subset", "requested_scopes": req.RequestedScopes,
			})
			return "", err
		}
		grantID = child.ID()
		_ = k.grants.Save(ctx, child)
	}

	lineage := run.Lineage{
		RootRunID:         parent.RootRunID(),
		ParentRunID:       parentRunID,
		Depth:             parent.Depth() + 1,
		SpawnKey:          req.SpawnKey,
		DelegationGrantID: grantID,
	}
	if lineage.RootRunID == "" {
		lineage.RootRunID = parentRunID
	}

	child, err := run.NewChildRun(tenantID, req.AgentID, "", req.Input, lineage)
	if err != nil {
		return "", err
	}
	if err := k.runs.Save(ctx, child); err != nil {
		return "", err
	}

	// The grant is minted before the child run id exists; link it now so
	// the child's own spawn calls can resolve their grant by run id.
	if grantID != "" {
		if g, gErr := k.grants.FindByID(ctx, grantID); gErr == nil && g != nil {
			linked := orchestration.ReconstructGrant(g.ID(), g.PrincipalID(), child.ID(), g.Token(), g.EffectiveScopes(), g.CreatedAt())
			_ = k.grants.Save(ctx, linked)
		}
	}

	k.emitter.EmitSpawnDecision(map[string]interface{}{
		"parent_run_id": parentRunID, "child_run_id": child.ID(), "agent_id": req.AgentID, "decision": "spawned",
	})
	k.emitter.EmitChildLifecycle(map[string]interface{}{
		"parent_run_id": parentRunID, "child_run_id": child.ID(), "status": "spawned",
	})

	k.start(detach(ctx), child.ID())

	return child.ID(), nil
}

// checkSpawnLimits enforces the tenant-policy spawn bounds: subtree depth,
// children per parent, and live children across the whole root tree. A
// violation surfaces as orchestration.policy_deny plus an authorization
// error, same as a scope-subset violation.
func (k *Kernel) checkSpawnLimits(ctx context.Context, parent *run.Run) error {
	deny := func(reason string) error {
		k.emitter.EmitPolicyDeny(map[string]interface{}{
			"parent_run_id": parent.ID(), "reason": reason,
		})
		return errors.Unauthorized(reason)
	}

	if k.limits.MaxSubtreeDepth > 0 && parent.Depth()+1 > k.limits.MaxSubtreeDepth {
		return deny("max_subtree_depth_exceeded")
	}

	if k.limits.MaxChildrenPerParent > 0 {
		children, err := k.runs.FindByParentRunID(ctx, parent.ID())
		if err == nil && len(children) >= k.limits.MaxChildrenPerParent {
			return deny("max_children_per_parent_exceeded")
		}
	}

	if k.limits.MaxConcurrentChildrenPerRoot > 0 {
		rootID := parent.RootRunID()
		if rootID == "" {
			rootID = parent.ID()
		}
		active, err := k.runs.FindActiveDescendants(ctx, rootID)
		if err == nil && len(active) >= k.limits.MaxConcurrentChildrenPerRoot {
			return deny("max_concurrent_children_per_root_exceeded")
		}
	}

	return nil
}

// SpawnGroup implements spawn_group: creates an OrchestrationGroup, spawns
// every member via SpawnRun, and records each as a Member so Join can
// later aggregate their terminal statuses (SPEC_FULL.md §4.7).
func (k *Kernel) SpawnGroup(ctx context.Context, tenantID, parentRunID string, parentDepth int, req execution.SpawnGroupRequest) (string, error) {
	policy := orchestration.PolicySnapshot{
		JoinMode:        orchestration.JoinMode(req.JoinMode),
		QuorumThreshold: req.QuorumThreshold,
		FailurePolicy:   orchestration.FailurePolicy(req.FailurePolicy),
		TimeoutSeconds:  req.TimeoutSeconds,
	}
	if policy.JoinMode == "" {
		policy.JoinMode = orchestration.JoinModeBestEffort
	}
	if policy.FailurePolicy == "" {
		policy.FailurePolicy = orchestration.FailurePolicyContinue
	}

	group, err := orchestration.NewGroup(tenantID, parentRunID, policy)
	if err != nil {
		return "", err
	}
	if err := k.groups.Save(ctx, group); err != nil {
		return "", err
	}

	for i, m := range req.Members {
		childRunID, err := k.SpawnRun(ctx, tenantID, parentRunID, parentDepth, m)
		if err != nil {
			if policy.FailurePolicy == orchestration.FailurePolicyFailFast {
				return "", err
			}
			continue
		}
		member := orchestration.Member{GroupID: group.ID(), RunID: childRunID, Ordinal: i, Status: orchestration.MemberStatusRunning}
		if err := k.groups.AddMember(ctx, member); err != nil {
			return "", err
		}
	}

	return group.ID(), nil
}

// Join implements join: waits for the group's join policy to be satisfied
// and returns a summary map: group_id, status, complete, success_count,
// failure_count, running_count and members ({run_id: {status, output,
// error}}), plus cancellation_propagated and cancelled_run_ids when members
// were cancelled. For fail_fast, quorum, first_success and timeout, deciding
// the join cancels the remaining running members (SPEC_FULL.md §4.7).
func (k *Kernel) Join(ctx context.Context, groupID string) (map[string]interface{}, error) {
	group, err := k.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, errors.NotFound("orchestration_group", groupID)
	}

	policy := group.Policy()
	deadline := time.Time{}
	if policy.TimeoutSeconds > 0 {
		deadline = time.Now().Add(time.Duration(policy.TimeoutSeconds) * time.Second)
	}

	for {
		members, err := k.groups.Members(ctx, groupID)
		if err != nil {
			return nil, err
		}

		decided, status, err := k.evaluateJoin(ctx, group, members, policy)
		if err != nil {
			return nil, err
		}
		if decided {
			return k.finishJoin(ctx, group, members, status)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return k.finishJoin(ctx, group, members, orchestration.GroupStatusTimedOut)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// evaluateJoin refreshes each member's terminal status from the Run
// repository and decides whether the group's join policy is satisfied yet.
func (k *Kernel) evaluateJoin(ctx context.Context, group *orchestration.Group, members []orchestration.Member, policy orchestration.PolicySnapshot) (bool, orchestration.GroupStatus, error) {
	completed, failed, total := 0, 0, len(members)

	for i, m := range members {
		r, err := k.runs.FindByID(ctx, m.RunID)
		if err != nil {
			continue
		}
		status := toMemberStatus(r.Status())
		if status != m.Status {
			_ = k.groups.UpdateMemberStatus(ctx, group.ID(), m.RunID, status)
			members[i].Status = status
		}
		switch status {
		case orchestration.MemberStatusCompleted:
			completed++
		case orchestration.MemberStatusFailed, orchestration.MemberStatusCancelled:
			failed++
		}
	}

	switch policy.JoinMode {
	case orchestration.JoinModeFirstSuccess:
		if completed > 0 {
			return true, orchestration.GroupStatusCompleted, nil
		}
		if failed == total && total > 0 {
			return true, orchestration.GroupStatusFailed, nil
		}
	case orchestration.JoinModeFailFast:
		if failed > 0 {
			return true, orchestration.GroupStatusFailed, nil
		}
		if completed == total {
			return true, orchestration.GroupStatusCompleted, nil
		}
	case orchestration.JoinModeQuorum:
		if completed >= policy.QuorumThreshold {
			return true, orchestration.GroupStatusCompleted, nil
		}
		if total-failed < policy.QuorumThreshold {
			return true, orchestration.GroupStatusFailed, nil
		}
	default: // best_effort
		if completed+failed == total {
			if failed > 0 {
				return true, orchestration.GroupStatusCompletedWithErrors, nil
			}
			return true, orchestration.GroupStatusCompleted, nil
		}
	}

	return false, "", nil
}

// finishJoin transitions the group to its terminal status, cancels any
// member still running (quorum/first_success/fail_fast/timeout leave
// stragglers), and assembles the aggregated output map. Every cancelled
// member id travels in the single result and a single
// orchestration.cancellation_propagation event.
func (k *Kernel) finishJoin(ctx context.Context, group *orchestration.Group, members []orchestration.Member, status orchestration.GroupStatus) (map[string]interface{}, error) {
	reason := cancelReason(group.Policy().JoinMode, status)
	var cancelledIDs []string
	for i, m := range members {
		if !orchestration.MemberStatus(m.Status).IsTerminal() {
			if err := k.cancelRun(ctx, m.RunID, reason); err == nil {
				cancelledIDs = append(cancelledIDs, m.RunID)
				_ = k.groups.UpdateMemberStatus(ctx, group.ID(), m.RunID, orchestration.MemberStatusCancelled)
				members[i].Status = orchestration.MemberStatusCancelled
			}
		}
	}

	if !group.Status().IsTerminal() {
		if err := group.Transition(status); err != nil {
			return nil, err
		}
		_ = k.groups.Update(ctx, group)
	}

	successCount, failureCount, runningCount := 0, 0, 0
	results := make(map[string]interface{}, len(members))
	for _, m := range members {
		r, err := k.runs.FindByID(ctx, m.RunID)
		if err != nil {
			continue
		}
		switch r.Status() {
		case run.StatusCompleted:
			successCount++
		case run.StatusFailed, run.StatusCancelled:
			failureCount++
		default:
			runningCount++
		}
		results[m.RunID] = map[string]interface{}{
			"status": string(r.Status()),
			"output": r.OutputResult(),
			"error":  r.ErrorMessage(),
		}
	}

	k.emitter.EmitJoinDecision(map[string]interface{}{
		"group_id": group.ID(), "status": string(status), "member_count": len(members),
		"success_count": successCount, "failure_count": failureCount,
	})
	if len(cancelledIDs) > 0 {
		k.emitter.EmitCancellationPropagation(map[string]interface{}{
			"group_id": group.ID(), "reason": reason, "cancelled_run_ids": cancelledIDs,
		})
	}

	result := map[string]interface{}{
		"group_id":      group.ID(),
		"status":        string(status),
		"complete":      true,
		"success_count": successCount,
		"failure_count": failureCount,
		"running_count": runningCount,
		"members":       results,
	}
	if len(cancelledIDs) > 0 {
		result["cancellation_propagated"] = true
		result["cancelled_run_ids"] = cancelledIDs
	}
	return result, nil
}

// cancelReason names why a join terminated a straggler, matching the
// reason vocabulary surfaced on cancelled Run rows ("join_fail_fast",
// "join_timed_out", "join_quorum_reached", "join_first_success").
func cancelReason(mode orchestration.JoinMode, status orchestration.GroupStatus) string {
	switch {
	case status == orchestration.GroupStatusTimedOut:
		return "join_timed_out"
	case mode == orchestration.JoinModeFailFast:
		return "join_fail_fast"
	case mode == orchestration.JoinModeQuorum && status == orchestration.GroupStatusCompleted:
		return "join_quorum_reached"
	case mode == orchestration.JoinModeFirstSuccess && status == orchestration.GroupStatusCompleted:
		return "join_first_success"
	default:
		return fmt.Sprintf("join_%s", status)
	}
}

// CancelSubtree implements cancel_subtree: BFS-cancels every active
// descendant of runID (and runID itself when includeRoot is set),
// propagating the cooperative cancellation flag down the tree
// (SPEC_FULL.md §4.7, §5).
func (k *Kernel) CancelSubtree(ctx context.Context, runID string, includeRoot bool, reason string) error {
	if runID == "" {
		return nil
	}

	descendants, err := k.runs.FindActiveDescendants(ctx, runID)
	if err != nil {
		return err
	}

	for _, d := range descendants {
		if err := k.cancelRun(ctx, d.ID(), reason); err != nil {
			return err
		}
	}

	if includeRoot {
		if err := k.cancelRun(ctx, runID, reason); err != nil {
			return err
		}
	}

	k.emitter.EmitCancellationPropagation(map[string]interface{}{
		"root_run_id": runID, "reason": reason, "affected_count": len(descendants),
	})
	return nil
}

func (k *Kernel) cancelRun(ctx context.Context, runID, reason string) error {
	r, err := k.runs.FindByID(ctx, runID)
	if err != nil {
		return nil
	}
	if r.Status().IsTerminal() {
		return nil
	}

	r.RequestCancellation()
	if r.Status() != "running" {
		if err := r.Cancel(reason); err != nil {
			return nil
		}
	}
	return k.runs.Update(ctx, r)
}

// EvaluateAndReplan implements evaluate_and_replan: a pure inspection of
// runID's direct children — no mutation, no cancellation. needs_replan is
// true as soon as any child has failed; suggested_action mirrors it as
// "replan"/"continue" (SPEC_FULL.md §4.7).
func (k *Kernel) EvaluateAndReplan(ctx context.Context, runID string) (map[string]interface{}, error) {
	children, err := k.runs.FindByParentRunID(ctx, runID)
	if err != nil {
		return nil, err
	}

	failedChildren := make([]string, 0)
	for _, c := range children {
		if c.Status() == run.StatusFailed {
			failedChildren = append(failedChildren, c.ID())
		}
	}

	needsReplan := len(failedChildren) > 0
	suggested := "continue"
	if needsReplan {
		suggested = "replan"
	}

	return map[string]interface{}{
		"needs_replan":     needsReplan,
		"failed_children":  failedChildren,
		"suggested_action": suggested,
	}, nil
}

func toMemberStatus(s run.Status) orchestration.MemberStatus {
	switch s {
	case run.StatusCompleted:
		return orchestration.MemberStatusCompleted
	case run.StatusFailed:
		return orchestration.MemberStatusFailed
	case run.StatusCancelled:
		return orchestration.MemberStatusCancelled
	default:
		return orchestration.MemberStatusRunning
	}
}

// detach strips a context's cancellation/deadline while preserving its
// values, so a spawned child run's goroutine keeps running after the
// parent node's own ctx is done.
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct{ context.Context }

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }
