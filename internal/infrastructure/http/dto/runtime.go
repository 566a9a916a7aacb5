package dto

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// CreateAgentRequest creates the first draft version of an agent.
type CreateAgentRequest struct {
	TenantID     string                 `json:"tenant_id"`
	Slug         string                 `json:"slug"`
	Name         string                 `json:"name"`
	Graph        GraphDTO               `json:"graph"`
	MemoryConfig map[string]interface{} `json:"memory_config,omitempty"`
	Constraints  ExecutionConstraints   `json:"constraints,omitempty"`
}

// UpdateAgentDraftRequest mutates a draft agent's graph/name/config in place.
type UpdateAgentDraftRequest struct {
	Name         *string               `json:"name,omitempty"`
	Graph        *GraphDTO             `json:"graph,omitempty"`
	MemoryConfig map[string]interface{} `json:"memory_config,omitempty"`
	Constraints  *ExecutionConstraints `json:"constraints,omitempty"`
}

// CreateAgentVersionRequest produces a new draft version of a published agent.
type CreateAgentVersionRequest struct {
	Graph GraphDTO `json:"graph"`
}

// ExecutionConstraints mirrors agent.ExecutionConstraints on the wire.
type ExecutionConstraints struct {
	TimeoutSeconds        int `json:"timeout_seconds,omitempty"`
	MaxChildrenPerParent  int `json:"max_children_per_parent,omitempty"`
	MaxSubtreeDepth       int `json:"max_subtree_depth,omitempty"`
	MaxConcurrentChildren int `json:"max_concurrent_children_per_root,omitempty"`
}

// GraphDTO mirrors agent.Graph on the wire.
type GraphDTO struct {
	SpecVersion string     `json:"spec_version"`
	Nodes       []NodeDTO  `json:"nodes"`
	Edges       []EdgeDTO  `json:"edges"`
}

// NodeDTO mirrors agent.Node on the wire.
type NodeDTO struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Position      map[string]float64     `json:"position,omitempty"`
	Config        map[string]interface{} `json:"config,omitempty"`
	InputMappings map[string]string      `json:"input_mappings,omitempty"`
}

// EdgeDTO mirrors agent.Edge on the wire.
type EdgeDTO struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// AgentResponse represents an AgentDefinition resource.
type AgentResponse struct {
	AgentID      string                 `json:"agent_id"`
	TenantID     string                 `json:"tenant_id"`
	Slug         string                 `json:"slug"`
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Status       string                 `json:"status"`
	Graph        GraphDTO               `json:"graph"`
	MemoryConfig map[string]interface{} `json:"memory_config,omitempty"`
	Constraints  ExecutionConstraints   `json:"constraints"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ListAgentsResponse paginates a tenant's agents.
type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// StartRunRequest starts a root Run for an agent.
type StartRunRequest struct {
	TenantID string                 `json:"tenant_id"`
	AgentID  string                 `json:"agent_id"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Stream   bool                   `json:"stream,omitempty"`
}

// ResumeRunRequest submits a human-in-the-loop response to a paused run.
type ResumeRunRequest struct {
	// ToolOutputs answers pending tool calls surfaced by a user_approval or
	// human_input interrupt (SPEC_FULL.md §4.1).
	ToolOutputs []map[string]interface{} `json:"tool_outputs,omitempty"`
	// Payload is merged into state for a plain human_input resume.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// CancelRunRequest requests cooperative cancellation of a run.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RunResponse represents a Run resource.
type RunResponse struct {
	RunID                string                 `json:"run_id"`
	TenantID             string                 `json:"tenant_id"`
	AgentID              string                 `json:"agent_id"`
	AgentVersion         string                 `json:"agent_version,omitempty"`
	Status               string                 `json:"status"`
	Input                map[string]interface{} `json:"input,omitempty"`
	Output               map[string]interface{} `json:"output,omitempty"`
	Error                string                 `json:"error,omitempty"`
	RootRunID            string                 `json:"root_run_id,omitempty"`
	ParentRunID          string                 `json:"parent_run_id,omitempty"`
	Depth                int                    `json:"depth"`
	OrchestrationGroupID string                 `json:"orchestration_group_id,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	StartedAt            *time.Time             `json:"started_at,omitempty"`
	CompletedAt          *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// ListRunsResponse paginates runs.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// SpawnRunRequest maps to execution.SpawnRunRequest for the direct
// orchestration HTTP surface (tests/tooling driving spawn_run outside of a
// graph node).
type SpawnRunRequest struct {
	AgentID         string                 `json:"agent_id"`
	Input           map[string]interface{} `json:"input,omitempty"`
	SpawnKey        string                 `json:"spawn_key,omitempty"`
	RequestedScopes []string               `json:"requested_scopes,omitempty"`
}

// SpawnGroupRequest maps to execution.SpawnGroupRequest.
type SpawnGroupRequest struct {
	Members         []SpawnRunRequest `json:"members"`
	JoinMode        string            `json:"join_mode,omitempty"`
	QuorumThreshold int               `json:"quorum_threshold,omitempty"`
	FailurePolicy   string            `json:"failure_policy,omitempty"`
	TimeoutSeconds  int               `json:"timeout_s,omitempty"`
}

// SpawnResponse is returned by spawn_run/spawn_group.
type SpawnResponse struct {
	RunID   string `json:"run_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

// JoinResponse wraps the Kernel's aggregated join result.
type JoinResponse struct {
	GroupID string                 `json:"group_id"`
	Status  string                 `json:"status"`
	Members map[string]interface{} `json:"members"`
}

// CancelSubtreeRequest requests a BFS cancellation of a run's subtree.
type CancelSubtreeRequest struct {
	IncludeRoot bool   `json:"include_root,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
