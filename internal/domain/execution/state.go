package execution

// Message is an entry in a run's transcript (agent/llm output, tool result,
// or a replayed resume payload).
type Message struct {
	Role    string                 `json:"role"`
	Content string                 `json:"content,omitempty"`
	Name    string                 `json:"name,omitempty"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// State is the per-run working memory threaded through every executor call
// (SPEC_FULL.md §3). It is mutated only by merging executor-returned Deltas;
// executors themselves must never mutate a State in place.
type State struct {
	Messages        []Message
	Context         map[string]interface{}
	NodeOutputs     map[string]interface{}
	Vars            map[string]interface{}
	LastAgentOutput interface{}
}

// NewState creates an empty State seeded with the run's initial input under
// Vars, matching how a start node receives it.
func NewState(input map[string]interface{}) *State {
	vars := make(map[string]interface{}, len(input))
	for k, v := range input {
		vars[k] = v
	}
	return &State{
		Messages:    make([]Message, 0),
		Context:     make(map[string]interface{}),
		NodeOutputs: make(map[string]interface{}),
		Vars:        vars,
	}
}

// Clone returns a copy safe to hand to a spawned child run or subgraph —
// maps and slices are copied one level deep.
func (s *State) Clone() *State {
	clone := &State{
		Messages:        make([]Message, len(s.Messages)),
		Context:         make(map[string]interface{}, len(s.Context)),
		NodeOutputs:     make(map[string]interface{}, len(s.NodeOutputs)),
		Vars:            make(map[string]interface{}, len(s.Vars)),
		LastAgentOutput: s.LastAgentOutput,
	}
	copy(clone.Messages, s.Messages)
	for k, v := range s.Context {
		clone.Context[k] = v
	}
	for k, v := range s.NodeOutputs {
		clone.NodeOutputs[k] = v
	}
	for k, v := range s.Vars {
		clone.Vars[k] = v
	}
	return clone
}

// FromMap rebuilds a State from a checkpoint's channel values — the inverse
// of the Engine's boundary snapshot. Messages survive a JSON round-trip
// through the checkpoint store as []interface{} of maps, so both the typed
// in-memory form and the decoded form are accepted.
func FromMap(values map[string]interface{}) *State {
	s := NewState(nil)
	if values == nil {
		return s
	}

	switch msgs := values["messages"].(type) {
	case []Message:
		s.Messages = append(s.Messages, msgs...)
	case []interface{}:
		for _, raw := range msgs {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			msg := Message{}
			msg.Role, _ = m["role"].(string)
			msg.Content, _ = m["content"].(string)
			msg.Name, _ = m["name"].(string)
			msg.Extra, _ = m["extra"].(map[string]interface{})
			s.Messages = append(s.Messages, msg)
		}
	}

	if ctx, ok := values["context"].(map[string]interface{}); ok {
		for k, v := range ctx {
			s.Context[k] = v
		}
	}
	if outputs, ok := values["_node_outputs"].(map[string]interface{}); ok {
		for k, v := range outputs {
			s.NodeOutputs[k] = v
		}
	}
	if vars, ok := values["state"].(map[string]interface{}); ok {
		for k, v := range vars {
			s.Vars[k] = v
		}
	}
	s.LastAgentOutput = values["last_agent_output"]

	return s
}

// Delta is the partial State patch an executor returns from Execute, plus
// control-flow signals the Engine consumes: which outgoing handle to follow,
// a final output for end/join nodes, tool outputs to append as messages, and
// an error that aborts the run. Executors leave fields they don't touch at
// their zero value — Merge treats a zero field as "no change".
type Delta struct {
	Messages []Message
	Context  map[string]interface{}
	Vars     map[string]interface{}
	Output   interface{}

	Next            string
	BranchTaken     string
	FinalOutput     map[string]interface{}
	ToolOutputs     []Message
	WriteLastOutput bool
	Err             error
}

// Merge applies a Delta to a State per SPEC_FULL.md §3: messages append,
// _node_outputs[node_id] is set to delta.Output, state/context shallow-merge,
// everything else overwrites. Merge never mutates its inputs.
func Merge(s *State, nodeID string, d *Delta) *State {
	out := s.Clone()

	if len(d.Messages) > 0 {
		out.Messages = append(out.Messages, d.Messages...)
	}
	if len(d.ToolOutputs) > 0 {
		out.Messages = append(out.Messages, d.ToolOutputs...)
	}
	if d.Output != nil {
		out.NodeOutputs[nodeID] = d.Output
	}
	for k, v := range d.Context {
		out.Context[k] = v
	}
	for k, v := range d.Vars {
		out.Vars[k] = v
	}
	if d.WriteLastOutput {
		out.LastAgentOutput = d.Output
	}

	return out
}
