package checkpoint

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Status is the state of the execution a checkpoint belongs to, as of that checkpoint.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Resumable reports whether an execution stopped at this status can be picked up again.
func (s Status) Resumable() bool {
	return s == StatusPaused || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusPaused, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Checkpoint is a snapshot of the progress of one execution.
//
// State is opaque to the stores: it is written and read back as is. StateType names the shape and
// the codec State was encoded with.
type Checkpoint struct {
	ID            string            `json:"id"`
	ExecutionID   string            `json:"execution_id"`
	PipelineName  string            `json:"pipeline_name"`
	StepIndex     int               `json:"step_index"`
	StepID        string            `json:"step_id,omitempty"`
	StepName      string            `json:"step_name,omitempty"`
	State         []byte            `json:"state,omitempty"`
	StateType     string            `json:"state_type,omitempty"`
	Status        Status            `json:"status"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// namespace of the checkpoint ids.
var namespace = uuid.MustParse("5b0c2f4e-8a6d-4f0e-9d52-3c1e7a9b6d21")

// NewID returns the id of the checkpoint of executionID at stepIndex. It is the same on every call.
func NewID(executionID string, stepIndex int) string {
	return uuid.NewSHA1(namespace, []byte(executionID+"/"+strconv.Itoa(stepIndex))).String()
}

// Validate checks the fields every store relies on.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return ErrNilCheckpoint
	}
	if c.ID == "" {
		return errors.Wrap(ErrInvalidCheckpoint, "id must be set")
	}
	if c.ExecutionID == "" {
		return errors.Wrap(ErrInvalidCheckpoint, "execution id must be set")
	}
	if !c.Status.Valid() {
		return errors.Wrapf(ErrInvalidCheckpoint, "unknown status %q", c.Status)
	}
	if c.StepIndex < 0 {
		return errors.Wrapf(ErrInvalidCheckpoint, "negative step index %d", c.StepIndex)
	}

	return nil
}

// ValidateClaim checks the target status of a Claim. Claiming into a resumable status would let a
// second worker claim the same checkpoint.
func ValidateClaim(to Status) error {
	if !to.Valid() || to.Resumable() {
		return errors.Wrapf(ErrInvalidCheckpoint, "can not claim into status %q", to)
	}

	return nil
}

// Clone returns a deep copy of c.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	if c.State != nil {
		cp.State = append([]byte(nil), c.State...)
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}

	return &cp
}

// before orders checkpoints by creation time, then by step index.
func before(a, b *Checkpoint) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return a.StepIndex < b.StepIndex
}

// SortOldestFirst sorts cps in place, oldest first.
func SortOldestFirst(cps []*Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool { return before(cps[i], cps[j]) })
}

// SortNewestFirst sorts cps in place, newest first.
func SortNewestFirst(cps []*Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool { return before(cps[j], cps[i]) })
}

// Latest returns the newest checkpoint of cps, nil when cps is empty.
func Latest(cps []*Checkpoint) *Checkpoint {
	var latest *Checkpoint
	for _, cp := range cps {
		if latest == nil || before(latest, cp) {
			latest = cp
		}
	}

	return latest
}

// Expired reports whether cp was created before now minus olderThan.
func Expired(cp *Checkpoint, now time.Time, olderThan time.Duration) bool {
	return cp.CreatedAt.Before(now.Add(-olderThan))
}
