package streaming

import (
	"github.com/agentkernel/agentkernel/internal/domain/execution"
)

// Mode is the consumer stream mode (SPEC_FULL.md §4.4): debug sees every
// event plus synthesized reasoning; production sees only client_safe
// events.
type Mode string

const (
	ModeDebug      Mode = "debug"
	ModeProduction Mode = "production"
)

// Normalizer wraps a raw event dict into an ExecutionEvent with inferred
// visibility — in this Go port, events already arrive as ExecutionEvent
// from Emitter/Engine, so Normalize is a pass-through that only fills in
// visibility when a caller left it unset (e.g. a hand-built event from an
// HTTP handler translating an external webhook).
func Normalize(e execution.ExecutionEvent) execution.ExecutionEvent {
	if e.Visibility == "" {
		e.Visibility = execution.InferVisibility(e.Event)
	}
	return e
}

// StreamFilter is the mode-aware consumer view over a merged event stream
// (SPEC_FULL.md §4.4): debug mode emits everything plus synthesized
// `reasoning` events for each on_tool_start/on_tool_end; production mode
// emits only client_safe events and performs no reasoning synthesis unless
// explicitly opted in.
type StreamFilter struct {
	mode                            Mode
	synthesizeReasoningInProduction bool
}

func NewStreamFilter(mode Mode) *StreamFilter {
	return &StreamFilter{mode: mode}
}

// WithReasoningInProduction opts a production-mode filter into reasoning
// synthesis, matching SPEC_FULL.md §4.4's "unless explicitly opted in".
func (f *StreamFilter) WithReasoningInProduction(enabled bool) *StreamFilter {
	f.synthesizeReasoningInProduction = enabled
	return f
}

// Apply runs one normalized event through the filter and returns the
// events a consumer in this mode should actually see — zero, one (the
// event itself), or two (the event plus a synthesized reasoning event).
func (f *StreamFilter) Apply(e execution.ExecutionEvent) []execution.ExecutionEvent {
	e = Normalize(e)

	synthesize := f.mode == ModeDebug || f.synthesizeReasoningInProduction
	visible := f.mode == ModeDebug || e.Visibility == execution.VisibilityClientSafe

	var out []execution.ExecutionEvent
	if visible {
		out = append(out, e)
	}

	if synthesize {
		if reasoning, ok := synthesizeReasoning(e); ok {
			out = append(out, reasoning)
		}
	}

	return out
}

// synthesizeReasoning turns on_tool_start/on_tool_end into a client-facing
// `reasoning` event with status active/complete (SPEC_FULL.md §4.4).
func synthesizeReasoning(e execution.ExecutionEvent) (execution.ExecutionEvent, bool) {
	var status string
	switch e.Event {
	case execution.KindOnToolStart:
		status = "active"
	case execution.KindOnToolEnd:
		status = "complete"
	default:
		return execution.ExecutionEvent{}, false
	}

	data := map[string]interface{}{"status": status}
	for k, v := range e.Data {
		data[k] = v
	}

	r := execution.NewExecutionEvent(execution.KindReasoning, e.RunID, data)
	r.Visibility = execution.VisibilityClientSafe
	return r, true
}
