package execution

import "time"

// Visibility controls whether a consumer mode sees an ExecutionEvent
// (SPEC_FULL.md §4.4).
type Visibility string

const (
	VisibilityInternal   Visibility = "internal"
	VisibilityClientSafe Visibility = "client_safe"
)

// Event kinds, fixed by SPEC_FULL.md §6 (ExecutionEvent wire shape).
const (
	KindNodeStart                     = "node_start"
	KindNodeEnd                       = "node_end"
	KindToken                         = "token"
	KindOnToolStart                   = "on_tool_start"
	KindOnToolEnd                     = "on_tool_end"
	KindRunStatus                     = "run_status"
	KindError                         = "error"
	KindReasoning                     = "reasoning"
	KindOrchestrationSpawnDecision    = "orchestration.spawn_decision"
	KindOrchestrationChildLifecycle   = "orchestration.child_lifecycle"
	KindOrchestrationJoinDecision     = "orchestration.join_decision"
	KindOrchestrationCancellationProp = "orchestration.cancellation_propagation"
	KindOrchestrationPolicyDeny       = "orchestration.policy_deny"
)

// defaultVisibility is the Normalizer's inference table (SPEC_FULL.md §4.4):
// token/run_status/error default client_safe, everything else internal.
var defaultVisibility = map[string]Visibility{
	KindToken:     VisibilityClientSafe,
	KindRunStatus: VisibilityClientSafe,
	KindError:     VisibilityClientSafe,
}

// InferVisibility returns the default visibility for an event kind, falling
// back to internal for anything not in the table, including unknown kinds.
func InferVisibility(kind string) Visibility {
	if v, ok := defaultVisibility[kind]; ok {
		return v
	}
	return VisibilityInternal
}

// ExecutionEvent is the single wire-level event shape produced by the
// Engine and Emitter and consumed by the Event Stream Pipeline
// (SPEC_FULL.md §3, §9).
type ExecutionEvent struct {
	Event      string                 `json:"event"`
	Data       map[string]interface{} `json:"data"`
	RunID      string                 `json:"run_id"`
	SpanID     string                 `json:"span_id,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Visibility Visibility             `json:"visibility"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewExecutionEvent builds an ExecutionEvent with visibility inferred from
// kind, matching the Normalizer's behavior for events without an explicit
// override.
func NewExecutionEvent(kind, runID string, data map[string]interface{}) ExecutionEvent {
	if data == nil {
		data = make(map[string]interface{})
	}
	return ExecutionEvent{
		Event:      kind,
		Data:       data,
		RunID:      runID,
		Visibility: InferVisibility(kind),
		OccurredAt: time.Now(),
	}
}

// WithSpan, WithName, WithVisibility and WithMetadata return a copy of the
// event with the field set, chainable at the call site:
// NewExecutionEvent(...).WithSpan(id).
func (e ExecutionEvent) WithSpan(spanID string) ExecutionEvent {
	e.SpanID = spanID
	return e
}

func (e ExecutionEvent) WithName(name string) ExecutionEvent {
	e.Name = name
	return e
}

func (e ExecutionEvent) WithVisibility(v Visibility) ExecutionEvent {
	e.Visibility = v
	return e
}

func (e ExecutionEvent) WithMetadata(meta map[string]interface{}) ExecutionEvent {
	e.Metadata = meta
	return e
}

// AgentTrace is the span record shape (SPEC_FULL.md §3): one row per
// node/agent/tool invocation. No repository in this module writes or reads
// AgentTrace values, in debug mode or in production mode.
type AgentTrace struct {
	ID           string
	RunID        string
	SpanID       string
	ParentSpanID string
	Name         string
	SpanType     string
	Inputs       map[string]interface{}
	Outputs      map[string]interface{}
	StartTime    time.Time
	EndTime      *time.Time
	Metadata     map[string]interface{}
}
