package humanloop

import "time"

// Event types
const (
	EventTypeInterruptRaised   = "interrupt.raised"
	EventTypeInterruptResolved = "interrupt.resolved"
)

// InterruptRaised marks a run suspending at a human-in-the-loop node.
type InterruptRaised struct {
	InterruptID   string                 `json:"interrupt_id"`
	RunID         string                 `json:"run_id"`
	NodeID        string                 `json:"node_id"`
	Reason        string                 `json:"reason"`
	ResumeKey     string                 `json:"resume_key,omitempty"`
	StateSnapshot map[string]interface{} `json:"state_snapshot,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

func (e InterruptRaised) EventType() string     { return EventTypeInterruptRaised }
func (e InterruptRaised) AggregateID() string   { return e.InterruptID }
func (e InterruptRaised) AggregateType() string { return "interrupt" }

// InterruptResolved carries the human's answer back toward the run.
type InterruptResolved struct {
	InterruptID string                 `json:"interrupt_id"`
	RunID       string                 `json:"run_id"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

func (e InterruptResolved) EventType() string     { return EventTypeInterruptResolved }
func (e InterruptResolved) AggregateID() string   { return e.InterruptID }
func (e InterruptResolved) AggregateType() string { return "interrupt" }
