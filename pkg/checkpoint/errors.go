package checkpoint

import "github.com/pkg/errors"

var (
	ErrNotFound          = errors.New("checkpoint not found")
	ErrNilCheckpoint     = errors.New("checkpoint must be set")
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
	// ErrNotClaimable is returned by Claim when the checkpoint is not in a resumable status,
	// typically because another worker claimed it first.
	ErrNotClaimable = errors.New("checkpoint is not claimable")
)
