package checkpoint

import (
	"context"
	"time"
)

// Store persists checkpoints.
//
// Implementations must be safe for concurrent use. Backend errors are always returned: a failed Save
// is never reported as a success.
type Store interface {
	// Save inserts cp or replaces the checkpoint with the same id.
	Save(ctx context.Context, cp *Checkpoint) error
	// Get returns ErrNotFound when no checkpoint has this id.
	Get(ctx context.Context, id string) (*Checkpoint, error)
	// GetLatest returns the newest checkpoint of the execution, or ErrNotFound.
	GetLatest(ctx context.Context, executionID string) (*Checkpoint, error)
	// GetAll returns the checkpoints of the execution, oldest first.
	GetAll(ctx context.Context, executionID string) ([]*Checkpoint, error)
	// UpdateStatus changes the status and the error message of a checkpoint, and nothing else.
	// An unknown id is not an error.
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	// Claim atomically moves a resumable checkpoint to the status to. When the checkpoint is not
	// resumable anymore ErrNotClaimable is returned, so only one of several concurrent callers wins.
	Claim(ctx context.Context, id string, to Status) (*Checkpoint, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, executionID string) error
	// GetResumable returns the paused and failed checkpoints, newest first. An empty pipelineName
	// matches every pipeline.
	GetResumable(ctx context.Context, pipelineName string) ([]*Checkpoint, error)
	// CleanupExpired deletes the checkpoints created more than olderThan ago and returns how many
	// were deleted.
	CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

// Clock returns the current time. Stores use it to decide what is expired.
type Clock func() time.Time
