package agent

import "time"

// Event types
const (
	EventTypeAgentDefinitionCreated    = "agent_definition.created"
	EventTypeAgentDefinitionUpdated    = "agent_definition.updated"
	EventTypeAgentDefinitionPublished  = "agent_definition.published"
	EventTypeAgentDefinitionDeprecated = "agent_definition.deprecated"
)

// AgentDefinitionCreated event
type AgentDefinitionCreated struct {
	AgentID    string    `json:"agent_id"`
	TenantID   string    `json:"tenant_id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Graph      Graph     `json:"graph"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e AgentDefinitionCreated) EventType() string     { return EventTypeAgentDefinitionCreated }
func (e AgentDefinitionCreated) AggregateID() string   { return e.AgentID }
func (e AgentDefinitionCreated) AggregateType() string { return "agent_definition" }

// AgentDefinitionUpdated event
type AgentDefinitionUpdated struct {
	AgentID              string                 `json:"agent_id"`
	Name                 *string                `json:"name,omitempty"`
	Graph                *Graph                 `json:"graph,omitempty"`
	MemoryConfig         map[string]interface{} `json:"memory_config,omitempty"`
	ExecutionConstraints *ExecutionConstraints  `json:"execution_constraints,omitempty"`
	OccurredAt           time.Time              `json:"occurred_at"`
}

func (e AgentDefinitionUpdated) EventType() string     { return EventTypeAgentDefinitionUpdated }
func (e AgentDefinitionUpdated) AggregateID() string   { return e.AgentID }
func (e AgentDefinitionUpdated) AggregateType() string { return "agent_definition" }

// AgentDefinitionPublished event
type AgentDefinitionPublished struct {
	AgentID    string    `json:"agent_id"`
	Version    string    `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e AgentDefinitionPublished) EventType() string     { return EventTypeAgentDefinitionPublished }
func (e AgentDefinitionPublished) AggregateID() string   { return e.AgentID }
func (e AgentDefinitionPublished) AggregateType() string { return "agent_definition" }

// AgentDefinitionDeprecated event
type AgentDefinitionDeprecated struct {
	AgentID    string    `json:"agent_id"`
	Version    string    `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e AgentDefinitionDeprecated) EventType() string     { return EventTypeAgentDefinitionDeprecated }
func (e AgentDefinitionDeprecated) AggregateID() string   { return e.AgentID }
func (e AgentDefinitionDeprecated) AggregateType() string { return "agent_definition" }
