package checkpoint

import "errors"

var (
	ErrInvalidRunID       = errors.New("run_id is required")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
