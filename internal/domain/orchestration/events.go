package orchestration

import "time"

// Event types
const (
	EventTypeGroupCreated   = "orchestration_group.created"
	EventTypeGroupCompleted = "orchestration_group.completed"
)

// GroupCreated event
type GroupCreated struct {
	GroupID           string    `json:"group_id"`
	TenantID          string    `json:"tenant_id"`
	OrchestratorRunID string    `json:"orchestrator_run_id"`
	JoinMode          string    `json:"join_mode"`
	QuorumThreshold   int       `json:"quorum_threshold,omitempty"`
	FailurePolicy     string    `json:"failure_policy"`
	TimeoutSeconds    int       `json:"timeout_s,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (e GroupCreated) EventType() string     { return EventTypeGroupCreated }
func (e GroupCreated) AggregateID() string   { return e.GroupID }
func (e GroupCreated) AggregateType() string { return "orchestration_group" }

// GroupCompleted event
type GroupCompleted struct {
	GroupID    string    `json:"group_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e GroupCompleted) EventType() string     { return EventTypeGroupCompleted }
func (e GroupCompleted) AggregateID() string   { return e.GroupID }
func (e GroupCompleted) AggregateType() string { return "orchestration_group" }
