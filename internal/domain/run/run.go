package run

import (
	"sync/atomic"
	"time"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	"github.com/agentkernel/agentkernel/internal/pkg/eventbus"
	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
)

// Lineage captures a run's place in an orchestration tree (SPEC_FULL.md §3).
type Lineage struct {
	RootRunID            string
	ParentRunID          string
	ParentNodeID         string
	Depth                int
	SpawnKey             string
	OrchestrationGroupID string
	DelegationGrantID    string
}

// Run represents a single execution of an agent graph.
type Run struct {
	id            string
	tenantID      string
	agentID       string
	agentVersion  string
	status        Status
	input         map[string]interface{}
	outputResult  map[string]interface{}
	errorMessage  string
	checkpointRef string
	engineRunRef  string
	lineage       Lineage
	createdAt     time.Time
	startedAt     *time.Time
	completedAt   *time.Time
	updatedAt     time.Time

	// cancelled is flipped by cancel_subtree / join-triggered cancellation.
	// It is read cooperatively by the Engine driver loop before each node,
	// per the concurrency model in SPEC_FULL.md §5.
	cancelled int32

	// Uncommitted events
	events []eventbus.Event
}

// NewRun creates a root Run (no parent). Use NewChildRun for runs spawned by
// the Orchestration Kernel.
func NewRun(tenantID, agentID, agentVersion string, input map[string]interface{}) (*Run, error) {
	if tenantID == "" {
		return nil, errors.InvalidInput("tenant_id", "tenant_id is required")
	}
	if agentID == "" {
		return nil, errors.InvalidInput("agent_id", "agent_id is required")
	}

	runID := pkguuid.New()
	return newRun(runID, tenantID, agentID, agentVersion, input, Lineage{RootRunID: runID, Depth: 0})
}

// NewChildRun creates a Run spawned by the Orchestration Kernel, embedding
// the lineage that ties it back to its parent and root.
func NewChildRun(tenantID, agentID, agentVersion string, input map[string]interface{}, lineage Lineage) (*Run, error) {
	if tenantID == "" {
		return nil, errors.InvalidInput("tenant_id", "tenant_id is required")
	}
	if agentID == "" {
		return nil, errors.InvalidInput("agent_id", "agent_id is required")
	}
	if lineage.ParentRunID == "" {
		return nil, errors.InvalidInput("parent_run_id", "child runs require a parent_run_id")
	}

	runID := pkguuid.New()
	if lineage.RootRunID == "" {
		lineage.RootRunID = lineage.ParentRunID
	}
	return newRun(runID, tenantID, agentID, agentVersion, input, lineage)
}

func newRun(runID, tenantID, agentID, agentVersion string, input map[string]interface{}, lineage Lineage) (*Run, error) {
	now := time.Now()
	if input == nil {
		input = make(map[string]interface{})
	}

	r := &Run{
		id:           runID,
		tenantID:     tenantID,
		agentID:      agentID,
		agentVersion: agentVersion,
		status:       StatusQueued,
		input:        input,
		lineage:      lineage,
		createdAt:    now,
		updatedAt:    now,
		events:       make([]eventbus.Event, 0),
	}

	r.recordEvent(RunCreated{
		RunID:                runID,
		TenantID:             tenantID,
		AgentID:              agentID,
		AgentVersion:         agentVersion,
		Input:                input,
		RootRunID:            lineage.RootRunID,
		ParentRunID:          lineage.ParentRunID,
		ParentNodeID:         lineage.ParentNodeID,
		Depth:                lineage.Depth,
		SpawnKey:             lineage.SpawnKey,
		OrchestrationGroupID: lineage.OrchestrationGroupID,
		DelegationGrantID:    lineage.DelegationGrantID,
		OccurredAt:           now,
	})

	return r, nil
}

// Getters

func (r *Run) ID() string                             { return r.id }
func (r *Run) TenantID() string                        { return r.tenantID }
func (r *Run) AgentID() string                         { return r.agentID }
func (r *Run) AgentVersion() string                    { return r.agentVersion }
func (r *Run) Status() Status                          { return r.status }
func (r *Run) Input() map[string]interface{}           { return r.input }
func (r *Run) OutputResult() map[string]interface{}    { return r.outputResult }
func (r *Run) ErrorMessage() string                    { return r.errorMessage }
func (r *Run) CheckpointRef() string                   { return r.checkpointRef }
func (r *Run) EngineRunRef() string                    { return r.engineRunRef }
func (r *Run) RootRunID() string                       { return r.lineage.RootRunID }
func (r *Run) ParentRunID() string                     { return r.lineage.ParentRunID }
func (r *Run) ParentNodeID() string                    { return r.lineage.ParentNodeID }
func (r *Run) Depth() int                              { return r.lineage.Depth }
func (r *Run) SpawnKey() string                        { return r.lineage.SpawnKey }
func (r *Run) OrchestrationGroupID() string            { return r.lineage.OrchestrationGroupID }
func (r *Run) DelegationGrantID() string               { return r.lineage.DelegationGrantID }
func (r *Run) CreatedAt() time.Time                    { return r.createdAt }
func (r *Run) StartedAt() *time.Time                   { return r.startedAt }
func (r *Run) CompletedAt() *time.Time                 { return r.completedAt }
func (r *Run) UpdatedAt() time.Time                    { return r.updatedAt }
func (r *Run) IsRoot() bool                            { return r.lineage.ParentRunID == "" }
func (r *Run) IsCancelled() bool                       { return atomic.LoadInt32(&r.cancelled) == 1 }

// RequestCancellation flips the cooperative cancellation flag. It does not
// itself change Status — the Engine observes the flag at the next node
// boundary and performs the actual transition, per SPEC_FULL.md §4.3/§9.
func (r *Run) RequestCancellation() {
	atomic.StoreInt32(&r.cancelled, 1)
}

// SetCheckpointRef records the opaque checkpoint key for this run.
func (r *Run) SetCheckpointRef(ref string) {
	r.checkpointRef = ref
	r.updatedAt = time.Now()
}

// SetEngineRunRef records the engine's internal handle for this run.
func (r *Run) SetEngineRunRef(ref string) {
	r.engineRunRef = ref
	r.updatedAt = time.Now()
}

// Start transitions the run to running.
func (r *Run) Start() error {
	if !r.status.CanTransitionTo(StatusRunning) {
		return errors.InvalidState(r.status.String(), "start")
	}

	now := time.Now()
	r.status = StatusRunning
	if r.startedAt == nil {
		r.startedAt = &now
	}
	r.updatedAt = now

	r.recordEvent(RunStarted{RunID: r.id, OccurredAt: now})
	return nil
}

// Pause transitions the run to paused at an interrupt node.
func (r *Run) Pause(nodeID string) error {
	if !r.status.CanTransitionTo(StatusPaused) {
		return errors.InvalidState(r.status.String(), "pause")
	}

	now := time.Now()
	r.status = StatusPaused
	r.updatedAt = now

	r.recordEvent(RunPaused{RunID: r.id, NodeID: nodeID, OccurredAt: now})
	return nil
}

// Resume transitions a paused run back to running, merging the resume
// payload is the caller's responsibility (applied to State, not Run).
func (r *Run) Resume(payload map[string]interface{}) error {
	if !r.status.CanTransitionTo(StatusRunning) {
		return errors.InvalidState(r.status.String(), "resume")
	}

	now := time.Now()
	r.status = StatusRunning
	r.updatedAt = now

	r.recordEvent(RunResumed{RunID: r.id, Payload: payload, OccurredAt: now})
	return nil
}

// Complete transitions the run to completed with its final output.
func (r *Run) Complete(output map[string]interface{}) error {
	if !r.status.CanTransitionTo(StatusCompleted) {
		return errors.InvalidState(r.status.String(), "complete")
	}

	now := time.Now()
	r.status = StatusCompleted
	r.outputResult = output
	r.completedAt = &now
	r.updatedAt = now

	r.recordEvent(RunCompleted{RunID: r.id, Output: output, OccurredAt: now})
	return nil
}

// Fail transitions the run to failed.
func (r *Run) Fail(errMsg string) error {
	if !r.status.CanTransitionTo(StatusFailed) {
		return errors.InvalidState(r.status.String(), "fail")
	}

	now := time.Now()
	r.status = StatusFailed
	r.errorMessage = errMsg
	r.completedAt = &now
	r.updatedAt = now

	r.recordEvent(RunFailed{RunID: r.id, Error: errMsg, OccurredAt: now})
	return nil
}

// Cancel transitions the run to cancelled with a reason (e.g.
// "join_fail_fast", "join_timed_out", "join_quorum_reached", or a caller
// supplied reason for a direct cancel_subtree call).
func (r *Run) Cancel(reason string) error {
	if !r.status.CanTransitionTo(StatusCancelled) {
		return errors.InvalidState(r.status.String(), "cancel")
	}

	now := time.Now()
	r.status = StatusCancelled
	r.errorMessage = reason
	r.completedAt = &now
	r.updatedAt = now

	r.recordEvent(RunCancelled{RunID: r.id, Reason: reason, OccurredAt: now})
	return nil
}

// Events returns the uncommitted events.
func (r *Run) Events() []eventbus.Event { return r.events }

// ClearEvents clears the uncommitted events.
func (r *Run) ClearEvents() { r.events = make([]eventbus.Event, 0) }

func (r *Run) recordEvent(event eventbus.Event) {
	r.events = append(r.events, event)
}

// Reconstruct rebuilds run state from its event stream (event sourcing).
func Reconstruct(events []eventbus.Event) (*Run, error) {
	if len(events) == 0 {
		return nil, errors.InvalidInput("events", "at least one event is required")
	}

	r := &Run{events: make([]eventbus.Event, 0)}
	for _, event := range events {
		r.applyEvent(event)
	}
	return r, nil
}

func (r *Run) applyEvent(event eventbus.Event) {
	switch e := event.(type) {
	case RunCreated:
		r.id = e.RunID
		r.tenantID = e.TenantID
		r.agentID = e.AgentID
		r.agentVersion = e.AgentVersion
		r.input = e.Input
		if r.input == nil {
			r.input = make(map[string]interface{})
		}
		r.status = StatusQueued
		r.lineage = Lineage{
			RootRunID:            e.RootRunID,
			ParentRunID:          e.ParentRunID,
			ParentNodeID:         e.ParentNodeID,
			Depth:                e.Depth,
			SpawnKey:             e.SpawnKey,
			OrchestrationGroupID: e.OrchestrationGroupID,
			DelegationGrantID:    e.DelegationGrantID,
		}
		r.createdAt = e.OccurredAt
		r.updatedAt = e.OccurredAt

	case RunStarted:
		r.status = StatusRunning
		if r.startedAt == nil {
			r.startedAt = &e.OccurredAt
		}
		r.updatedAt = e.OccurredAt

	case RunPaused:
		r.status = StatusPaused
		r.updatedAt = e.OccurredAt

	case RunResumed:
		r.status = StatusRunning
		r.updatedAt = e.OccurredAt

	case RunCompleted:
		r.status = StatusCompleted
		r.outputResult = e.Output
		r.completedAt = &e.OccurredAt
		r.updatedAt = e.OccurredAt

	case RunFailed:
		r.status = StatusFailed
		r.errorMessage = e.Error
		r.completedAt = &e.OccurredAt
		r.updatedAt = e.OccurredAt

	case RunCancelled:
		r.status = StatusCancelled
		r.errorMessage = e.Reason
		r.completedAt = &e.OccurredAt
		r.updatedAt = e.OccurredAt
	}
}

// Data holds raw data for reconstructing a Run from a database projection
// (read-model rebuild, as opposed to Reconstruct's event-sourced rebuild).
type Data struct {
	ID            string
	TenantID      string
	AgentID       string
	AgentVersion  string
	Status        string
	Input         map[string]interface{}
	OutputResult  map[string]interface{}
	ErrorMessage  string
	CheckpointRef string
	EngineRunRef  string
	Lineage       Lineage
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
	Cancelled     bool
}

// ReconstructFromData rebuilds a Run from a database projection.
func ReconstructFromData(data Data) *Run {
	input := data.Input
	if input == nil {
		input = make(map[string]interface{})
	}

	r := &Run{
		id:            data.ID,
		tenantID:      data.TenantID,
		agentID:       data.AgentID,
		agentVersion:  data.AgentVersion,
		status:        ParseStatus(data.Status),
		input:         input,
		outputResult:  data.OutputResult,
		errorMessage:  data.ErrorMessage,
		checkpointRef: data.CheckpointRef,
		engineRunRef:  data.EngineRunRef,
		lineage:       data.Lineage,
		createdAt:     data.CreatedAt,
		startedAt:     data.StartedAt,
		completedAt:   data.CompletedAt,
		updatedAt:     data.UpdatedAt,
		events:        make([]eventbus.Event, 0),
	}
	if data.Cancelled {
		r.cancelled = 1
	}
	return r
}
