package humanloop

import (
	"time"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	"github.com/agentkernel/agentkernel/internal/pkg/eventbus"
	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
)

// Reason names why a run paused: a human_input node wants data, a
// user_approval node wants a decision.
type Reason string

const (
	ReasonInputNeeded      Reason = "input_needed"
	ReasonApprovalRequired Reason = "approval_required"
)

// Interrupt is the pause record a human_input/user_approval node leaves
// behind (SPEC_FULL.md §4.3): which node suspended the run, why, the key
// the resume payload is expected under, and a snapshot of the State at
// the pause for whoever has to answer it. Resolving stores the payload
// and releases the run for resume.
type Interrupt struct {
	id            string
	runID         string
	nodeID        string
	reason        Reason
	resumeKey     string
	stateSnapshot map[string]interface{}
	resolved      bool
	resumePayload map[string]interface{}
	resolvedAt    *time.Time
	createdAt     time.Time

	events []eventbus.Event
}

// NewInterrupt records a fresh, unresolved pause at nodeID.
func NewInterrupt(runID, nodeID string, reason Reason, resumeKey string, stateSnapshot map[string]interface{}) (*Interrupt, error) {
	if runID == "" {
		return nil, errors.InvalidInput("run_id", "run_id is required")
	}
	if nodeID == "" {
		return nil, errors.InvalidInput("node_id", "node_id is required")
	}
	if stateSnapshot == nil {
		stateSnapshot = make(map[string]interface{})
	}

	now := time.Now()
	interrupt := &Interrupt{
		id:            pkguuid.New(),
		runID:         runID,
		nodeID:        nodeID,
		reason:        reason,
		resumeKey:     resumeKey,
		stateSnapshot: stateSnapshot,
		createdAt:     now,
		events:        make([]eventbus.Event, 0),
	}

	interrupt.recordEvent(InterruptRaised{
		InterruptID:   interrupt.id,
		RunID:         runID,
		NodeID:        nodeID,
		Reason:        string(reason),
		ResumeKey:     resumeKey,
		StateSnapshot: stateSnapshot,
		OccurredAt:    now,
	})

	return interrupt, nil
}

func (i *Interrupt) ID() string                              { return i.id }
func (i *Interrupt) RunID() string                           { return i.runID }
func (i *Interrupt) NodeID() string                          { return i.nodeID }
func (i *Interrupt) Reason() Reason                          { return i.reason }
func (i *Interrupt) ResumeKey() string                       { return i.resumeKey }
func (i *Interrupt) StateSnapshot() map[string]interface{}   { return i.stateSnapshot }
func (i *Interrupt) IsResolved() bool                        { return i.resolved }
func (i *Interrupt) ResumePayload() map[string]interface{}   { return i.resumePayload }
func (i *Interrupt) ResolvedAt() *time.Time                  { return i.resolvedAt }
func (i *Interrupt) CreatedAt() time.Time                    { return i.createdAt }

// Resolve stores the human's answer. An interrupt resolves exactly once;
// a second submission is an invalid-state error, not a payload overwrite.
func (i *Interrupt) Resolve(payload map[string]interface{}) error {
	if i.resolved {
		return errors.InvalidState("resolved", "resolve")
	}

	now := time.Now()
	i.resolved = true
	i.resumePayload = payload
	i.resolvedAt = &now

	i.recordEvent(InterruptResolved{
		InterruptID: i.id,
		RunID:       i.runID,
		Payload:     payload,
		OccurredAt:  now,
	})

	return nil
}

// Events returns the uncommitted events.
func (i *Interrupt) Events() []eventbus.Event { return i.events }

// ClearEvents clears the uncommitted events.
func (i *Interrupt) ClearEvents() { i.events = make([]eventbus.Event, 0) }

func (i *Interrupt) recordEvent(event eventbus.Event) {
	i.events = append(i.events, event)
}

// Reconstitute rebuilds an interrupt from persisted data.
func Reconstitute(id, runID, nodeID string, reason Reason, resumeKey string, stateSnapshot, resumePayload map[string]interface{}, resolved bool, resolvedAt *time.Time, createdAt time.Time) *Interrupt {
	if stateSnapshot == nil {
		stateSnapshot = make(map[string]interface{})
	}
	return &Interrupt{
		id:            id,
		runID:         runID,
		nodeID:        nodeID,
		reason:        reason,
		resumeKey:     resumeKey,
		stateSnapshot: stateSnapshot,
		resolved:      resolved,
		resumePayload: resumePayload,
		resolvedAt:    resolvedAt,
		createdAt:     createdAt,
		events:        make([]eventbus.Event, 0),
	}
}
