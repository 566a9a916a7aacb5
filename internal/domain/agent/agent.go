package agent

import (
	"time"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	"github.com/agentkernel/agentkernel/internal/pkg/eventbus"
	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
)

// Status is the publication lifecycle of an AgentDefinition.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPublished  Status = "published"
	StatusDeprecated Status = "deprecated"
)

// ExecutionConstraints bounds how a Run of this agent may behave (timeout,
// max orchestration fan-out, etc).
type ExecutionConstraints struct {
	TimeoutSeconds         int `json:"timeout_seconds,omitempty"`
	MaxChildrenPerParent   int `json:"max_children_per_parent,omitempty"`
	MaxSubtreeDepth        int `json:"max_subtree_depth,omitempty"`
	MaxConcurrentChildren  int `json:"max_concurrent_children_per_root,omitempty"`
}

// AgentDefinition is the versioned, immutable-once-published description of
// an agent's graph (SPEC_FULL.md §3). It replaces the teacher's mutable
// "Assistant" concept: editing a published definition never mutates it in
// place, it creates a new version via NewVersion.
type AgentDefinition struct {
	id                   string
	tenantID             string
	slug                 string
	name                 string
	version              string
	graph                Graph
	memoryConfig         map[string]interface{}
	executionConstraints ExecutionConstraints
	status               Status
	createdAt            time.Time
	updatedAt            time.Time

	events []eventbus.Event
}

// NewAgentDefinition creates the first (draft) version of an agent.
func NewAgentDefinition(tenantID, slug, name string, graph Graph, memoryConfig map[string]interface{}, constraints ExecutionConstraints) (*AgentDefinition, error) {
	if tenantID == "" {
		return nil, errors.InvalidInput("tenant_id", "tenant_id is required")
	}
	if slug == "" {
		return nil, errors.InvalidInput("slug", "slug is required")
	}
	if name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	if memoryConfig == nil {
		memoryConfig = make(map[string]interface{})
	}

	now := time.Now()
	id := pkguuid.New()

	a := &AgentDefinition{
		id:                   id,
		tenantID:             tenantID,
		slug:                 slug,
		name:                 name,
		version:              "1",
		graph:                graph,
		memoryConfig:         memoryConfig,
		executionConstraints: constraints,
		status:               StatusDraft,
		createdAt:            now,
		updatedAt:            now,
		events:               make([]eventbus.Event, 0),
	}

	a.recordEvent(AgentDefinitionCreated{
		AgentID:    id,
		TenantID:   tenantID,
		Slug:       slug,
		Name:       name,
		Version:    a.version,
		Graph:      graph,
		OccurredAt: now,
	})

	return a, nil
}

// Getters

func (a *AgentDefinition) ID() string                                 { return a.id }
func (a *AgentDefinition) TenantID() string                           { return a.tenantID }
func (a *AgentDefinition) Slug() string                               { return a.slug }
func (a *AgentDefinition) Name() string                               { return a.name }
func (a *AgentDefinition) Version() string                            { return a.version }
func (a *AgentDefinition) Graph() Graph                               { return a.graph }
func (a *AgentDefinition) MemoryConfig() map[string]interface{}       { return a.memoryConfig }
func (a *AgentDefinition) ExecutionConstraints() ExecutionConstraints { return a.executionConstraints }
func (a *AgentDefinition) Status() Status                             { return a.status }
func (a *AgentDefinition) CreatedAt() time.Time                       { return a.createdAt }
func (a *AgentDefinition) UpdatedAt() time.Time                       { return a.updatedAt }

// UpdateDraft mutates a draft in place. Once published, callers must use
// NewVersion instead — enforced here, not by the caller.
func (a *AgentDefinition) UpdateDraft(name *string, graph *Graph, memoryConfig map[string]interface{}, constraints *ExecutionConstraints) error {
	if a.status == StatusPublished || a.status == StatusDeprecated {
		return errors.InvalidState(string(a.status), "update_draft")
	}

	now := time.Now()
	event := AgentDefinitionUpdated{AgentID: a.id, OccurredAt: now}

	if name != nil && *name != "" {
		a.name = *name
		event.Name = name
	}
	if graph != nil {
		a.graph = *graph
		event.Graph = graph
	}
	if memoryConfig != nil {
		a.memoryConfig = memoryConfig
		event.MemoryConfig = memoryConfig
	}
	if constraints != nil {
		a.executionConstraints = *constraints
		event.ExecutionConstraints = constraints
	}

	a.updatedAt = now
	a.recordEvent(event)
	return nil
}

// Publish freezes this version so no further UpdateDraft calls may succeed.
func (a *AgentDefinition) Publish() error {
	if a.status != StatusDraft {
		return errors.InvalidState(string(a.status), "publish")
	}

	now := time.Now()
	a.status = StatusPublished
	a.updatedAt = now

	a.recordEvent(AgentDefinitionPublished{AgentID: a.id, Version: a.version, OccurredAt: now})
	return nil
}

// NewVersion produces a new draft AgentDefinition carrying the same
// identity (id, tenant, slug) but an incremented version, leaving this
// (published) instance untouched — "edits create a new version" (§3).
func (a *AgentDefinition) NewVersion(graph Graph) (*AgentDefinition, error) {
	if a.status != StatusPublished {
		return nil, errors.InvalidState(string(a.status), "new_version")
	}

	next, err := NewAgentDefinition(a.tenantID, a.slug, a.name, graph, a.memoryConfig, a.executionConstraints)
	if err != nil {
		return nil, err
	}
	next.id = a.id // same logical agent, new version row keyed by (id, version)
	next.version = nextVersion(a.version)
	return next, nil
}

func nextVersion(v string) string {
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return v + "+1"
		}
		n = n*10 + int(c-'0')
	}
	n++
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Deprecate marks this version as no longer eligible for new runs.
func (a *AgentDefinition) Deprecate() error {
	if a.status != StatusPublished {
		return errors.InvalidState(string(a.status), "deprecate")
	}

	now := time.Now()
	a.status = StatusDeprecated
	a.updatedAt = now

	a.recordEvent(AgentDefinitionDeprecated{AgentID: a.id, Version: a.version, OccurredAt: now})
	return nil
}

// Events returns the uncommitted events.
func (a *AgentDefinition) Events() []eventbus.Event { return a.events }

// ClearEvents clears the uncommitted events.
func (a *AgentDefinition) ClearEvents() { a.events = make([]eventbus.Event, 0) }

func (a *AgentDefinition) recordEvent(event eventbus.Event) {
	a.events = append(a.events, event)
}

// ReconstructAgentDefinition rebuilds an AgentDefinition from persisted data.
func ReconstructAgentDefinition(
	id, tenantID, slug, name, version string,
	graph Graph,
	memoryConfig map[string]interface{},
	constraints ExecutionConstraints,
	status Status,
	createdAt, updatedAt time.Time,
) *AgentDefinition {
	if memoryConfig == nil {
		memoryConfig = make(map[string]interface{})
	}
	return &AgentDefinition{
		id:                   id,
		tenantID:             tenantID,
		slug:                 slug,
		name:                 name,
		version:              version,
		graph:                graph,
		memoryConfig:         memoryConfig,
		executionConstraints: constraints,
		status:               status,
		createdAt:            createdAt,
		updatedAt:            updatedAt,
		events:               make([]eventbus.Event, 0),
	}
}
