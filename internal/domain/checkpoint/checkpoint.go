package checkpoint

import (
	"time"

	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
)

// Checkpoint is the opaque snapshot of a Run's working State the Engine
// writes at every node boundary (SPEC_FULL.md §4.3). A run resumes from
// its latest checkpoint after an interrupt or a crash; the snapshot is a
// plain map so the store never needs to know the State's shape.
//
// Checkpoints are keyed by (run_id, checkpoint_ns). The namespace is
// empty for a top-level run and reserved for nested executions that need
// their own snapshot lineage without colliding with the parent's.
type Checkpoint struct {
	id                 string
	runID              string
	checkpointNS       string
	checkpointID       string
	parentCheckpointID string
	stateValues        map[string]interface{}
	createdAt          time.Time
}

// NewCheckpoint snapshots stateValues for runID. checkpointID is minted
// when the caller doesn't supply one; parentCheckpointID links the
// snapshot chain for history walks.
func NewCheckpoint(runID, checkpointNS, checkpointID, parentCheckpointID string, stateValues map[string]interface{}) (*Checkpoint, error) {
	if runID == "" {
		return nil, ErrInvalidRunID
	}
	if checkpointID == "" {
		checkpointID = pkguuid.New()
	}
	if stateValues == nil {
		stateValues = make(map[string]interface{})
	}

	return &Checkpoint{
		id:                 pkguuid.New(),
		runID:              runID,
		checkpointNS:       checkpointNS,
		checkpointID:       checkpointID,
		parentCheckpointID: parentCheckpointID,
		stateValues:        stateValues,
		createdAt:          time.Now(),
	}, nil
}

// Reconstitute rebuilds a checkpoint from persisted data.
func Reconstitute(id, runID, checkpointNS, checkpointID, parentCheckpointID string, stateValues map[string]interface{}, createdAt time.Time) *Checkpoint {
	if stateValues == nil {
		stateValues = make(map[string]interface{})
	}
	return &Checkpoint{
		id:                 id,
		runID:              runID,
		checkpointNS:       checkpointNS,
		checkpointID:       checkpointID,
		parentCheckpointID: parentCheckpointID,
		stateValues:        stateValues,
		createdAt:          createdAt,
	}
}

func (c *Checkpoint) ID() string                          { return c.id }
func (c *Checkpoint) RunID() string                       { return c.runID }
func (c *Checkpoint) CheckpointNS() string                { return c.checkpointNS }
func (c *Checkpoint) CheckpointID() string                { return c.checkpointID }
func (c *Checkpoint) ParentCheckpointID() string          { return c.parentCheckpointID }
func (c *Checkpoint) StateValues() map[string]interface{} { return c.stateValues }
func (c *Checkpoint) CreatedAt() time.Time                { return c.createdAt }

// LastNode returns the node id the Engine stamped into the snapshot, the
// position a resume re-enters at. Empty when the snapshot predates the
// first node boundary.
func (c *Checkpoint) LastNode() string {
	node, _ := c.stateValues["__last_node"].(string)
	return node
}
