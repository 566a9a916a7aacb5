package orchestration

import (
	"time"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	"github.com/agentkernel/agentkernel/internal/pkg/eventbus"
	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
)

// JoinMode is the completion policy for a Group's join operation
// (SPEC_FULL.md §4.7).
type JoinMode string

const (
	JoinModeBestEffort  JoinMode = "best_effort"
	JoinModeFailFast    JoinMode = "fail_fast"
	JoinModeQuorum      JoinMode = "quorum"
	JoinModeFirstSuccess JoinMode = "first_success"
)

// FailurePolicy mirrors the tool invocation failure policy vocabulary but
// applies to how a group's orchestrator node reacts to member failures.
type FailurePolicy string

const (
	FailurePolicyFailFast FailurePolicy = "fail_fast"
	FailurePolicyContinue FailurePolicy = "continue"
)

// GroupStatus is the state machine described in SPEC_FULL.md §4.7:
// running -> (completed | completed_with_errors | failed | timed_out).
type GroupStatus string

const (
	GroupStatusRunning              GroupStatus = "running"
	GroupStatusCompleted            GroupStatus = "completed"
	GroupStatusCompletedWithErrors  GroupStatus = "completed_with_errors"
	GroupStatusFailed               GroupStatus = "failed"
	GroupStatusTimedOut             GroupStatus = "timed_out"
)

func (s GroupStatus) IsTerminal() bool {
	switch s {
	case GroupStatusCompleted, GroupStatusCompletedWithErrors, GroupStatusFailed, GroupStatusTimedOut:
		return true
	}
	return false
}

// PolicySnapshot freezes the join parameters at spawn time so a later
// `join` call without arguments replays the original policy.
type PolicySnapshot struct {
	JoinMode        JoinMode
	QuorumThreshold int
	FailurePolicy   FailurePolicy
	TimeoutSeconds  int
}

// Group is an OrchestrationGroup aggregate: a set of child Runs spawned
// together under a shared join policy (SPEC_FULL.md §3).
type Group struct {
	id              string
	tenantID        string
	orchestratorRunID string
	policy          PolicySnapshot
	status          GroupStatus
	startedAt       time.Time
	completedAt     *time.Time

	events []eventbus.Event
}

// NewGroup creates a Group for a spawn_group call.
func NewGroup(tenantID, orchestratorRunID string, policy PolicySnapshot) (*Group, error) {
	if tenantID == "" {
		return nil, errors.InvalidInput("tenant_id", "tenant_id is required")
	}
	if orchestratorRunID == "" {
		return nil, errors.InvalidInput("orchestrator_run_id", "orchestrator_run_id is required")
	}
	if policy.JoinMode == JoinModeQuorum && policy.QuorumThreshold <= 0 {
		return nil, errors.InvalidInput("quorum_threshold", "quorum_threshold must be positive for quorum join mode")
	}

	now := time.Now()
	id := pkguuid.New()

	g := &Group{
		id:                id,
		tenantID:          tenantID,
		orchestratorRunID: orchestratorRunID,
		policy:            policy,
		status:            GroupStatusRunning,
		startedAt:         now,
		events:            make([]eventbus.Event, 0),
	}

	g.recordEvent(GroupCreated{
		GroupID:           id,
		TenantID:          tenantID,
		OrchestratorRunID: orchestratorRunID,
		JoinMode:          string(policy.JoinMode),
		QuorumThreshold:   policy.QuorumThreshold,
		FailurePolicy:     string(policy.FailurePolicy),
		TimeoutSeconds:    policy.TimeoutSeconds,
		OccurredAt:        now,
	})

	return g, nil
}

func (g *Group) ID() string                    { return g.id }
func (g *Group) TenantID() string              { return g.tenantID }
func (g *Group) OrchestratorRunID() string     { return g.orchestratorRunID }
func (g *Group) Policy() PolicySnapshot        { return g.policy }
func (g *Group) Status() GroupStatus           { return g.status }
func (g *Group) StartedAt() time.Time          { return g.startedAt }
func (g *Group) CompletedAt() *time.Time       { return g.completedAt }

// Transition moves the group to a terminal status exactly once; terminal is
// absorbing (SPEC_FULL.md §4.7).
func (g *Group) Transition(status GroupStatus) error {
	if g.status.IsTerminal() {
		return errors.InvalidState(string(g.status), "transition")
	}
	if !status.IsTerminal() {
		return errors.InvalidInput("status", "transition target must be a terminal status")
	}

	now := time.Now()
	g.status = status
	g.completedAt = &now

	g.recordEvent(GroupCompleted{GroupID: g.id, Status: string(status), OccurredAt: now})
	return nil
}

func (g *Group) Events() []eventbus.Event { return g.events }
func (g *Group) ClearEvents()             { g.events = make([]eventbus.Event, 0) }
func (g *Group) recordEvent(event eventbus.Event) {
	g.events = append(g.events, event)
}

// ReconstructGroup rebuilds a Group from persisted data.
func ReconstructGroup(id, tenantID, orchestratorRunID string, policy PolicySnapshot, status GroupStatus, startedAt time.Time, completedAt *time.Time) *Group {
	return &Group{
		id:                id,
		tenantID:          tenantID,
		orchestratorRunID: orchestratorRunID,
		policy:            policy,
		status:            status,
		startedAt:         startedAt,
		completedAt:       completedAt,
		events:            make([]eventbus.Event, 0),
	}
}
