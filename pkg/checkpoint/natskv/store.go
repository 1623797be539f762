// Package natskv implements checkpoint.Store on a NATS JetStream key value bucket.
//
// Every checkpoint is one key. Status changes use the revision of the entry as a compare and set,
// so concurrent workers claiming the same checkpoint never both win.
package natskv

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
)

const keyPrefix = "checkpoint."

var _ checkpoint.Store = (*Store)(nil)

// Store is a checkpoint store backed by a JetStream key value bucket.
type Store struct {
	kv  jetstream.KeyValue
	now checkpoint.Clock
}

// Option configures the Store.
type Option func(s *Store)

// WithClock sets the clock used by CleanupExpired.
func WithClock(now checkpoint.Clock) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on kv.
func New(kv jetstream.KeyValue, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open opens the bucket, creating it when it does not exist.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, opts ...Option) (*Store, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "pipeline checkpoints",
		})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open key value bucket %s", bucket)
	}

	return New(kv, opts...), nil
}

func key(id string) string {
	return keyPrefix + id
}

func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "unable to encode checkpoint")
	}
	_, err = s.kv.Put(ctx, key(cp.ID), data)

	return errors.Wrapf(err, "unable to save checkpoint %s", cp.ID)
}

func (s *Store) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	cp, _, err := s.get(ctx, id)
	return cp, err
}

func (s *Store) get(ctx context.Context, id string) (*checkpoint.Checkpoint, uint64, error) {
	entry, err := s.kv.Get(ctx, key(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "unable to read checkpoint %s", id)
	}
	var cp checkpoint.Checkpoint
	if err = json.Unmarshal(entry.Value(), &cp); err != nil {
		return nil, 0, errors.Wrapf(err, "unable to decode checkpoint %s", id)
	}

	return &cp, entry.Revision(), nil
}

func (s *Store) GetLatest(ctx context.Context, executionID string) (*checkpoint.Checkpoint, error) {
	cps, err := s.GetAll(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, checkpoint.ErrNotFound
	}

	return cps[len(cps)-1], nil
}

func (s *Store) GetAll(ctx context.Context, executionID string) ([]*checkpoint.Checkpoint, error) {
	cps, err := s.scan(ctx, func(cp *checkpoint.Checkpoint) bool {
		return cp.ExecutionID == executionID
	})
	if err != nil {
		return nil, err
	}
	checkpoint.SortOldestFirst(cps)

	return cps, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status checkpoint.Status, errMsg string) error {
	err := s.update(ctx, id, func(cp *checkpoint.Checkpoint) error {
		cp.Status = status
		cp.Error = errMsg

		return nil
	})
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil
	}

	return err
}

func (s *Store) Claim(ctx context.Context, id string, to checkpoint.Status) (*checkpoint.Checkpoint, error) {
	if err := checkpoint.ValidateClaim(to); err != nil {
		return nil, err
	}
	var claimed *checkpoint.Checkpoint
	err := s.update(ctx, id, func(cp *checkpoint.Checkpoint) error {
		if !cp.Status.Resumable() {
			return checkpoint.ErrNotClaimable
		}
		cp.Status = to
		claimed = cp

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// update applies fn to the stored checkpoint, retrying while another writer updates it first.
func (s *Store) update(ctx context.Context, id string, fn func(cp *checkpoint.Checkpoint) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "unable to update checkpoint %s", id)
		}
		cp, revision, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if err = fn(cp); err != nil {
			return err
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return errors.Wrap(err, "unable to encode checkpoint")
		}
		_, err = s.kv.Update(ctx, key(id), data, revision)
		if err == nil {
			return nil
		}
		if !conflict(err) {
			return errors.Wrapf(err, "unable to update checkpoint %s", id)
		}
	}
}

// conflict reports whether err is a revision mismatch.
func conflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.kv.Delete(ctx, key(id))
	return errors.Wrapf(err, "unable to delete checkpoint %s", id)
}

func (s *Store) DeleteAll(ctx context.Context, executionID string) error {
	cps, err := s.scan(ctx, func(cp *checkpoint.Checkpoint) bool {
		return cp.ExecutionID == executionID
	})
	if err != nil {
		return err
	}
	for _, cp := range cps {
		if err = s.Delete(ctx, cp.ID); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) GetResumable(ctx context.Context, pipelineName string) ([]*checkpoint.Checkpoint, error) {
	cps, err := s.scan(ctx, func(cp *checkpoint.Checkpoint) bool {
		return cp.Status.Resumable() && (pipelineName == "" || cp.PipelineName == pipelineName)
	})
	if err != nil {
		return nil, err
	}
	checkpoint.SortNewestFirst(cps)

	return cps, nil
}

func (s *Store) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	cps, err := s.scan(ctx, func(cp *checkpoint.Checkpoint) bool {
		return checkpoint.Expired(cp, now, olderThan)
	})
	if err != nil {
		return 0, err
	}
	for i, cp := range cps {
		if err = s.Delete(ctx, cp.ID); err != nil {
			return i, err
		}
	}

	return len(cps), nil
}

// scan returns the stored checkpoints matching keep.
func (s *Store) scan(ctx context.Context, keep func(cp *checkpoint.Checkpoint) bool) ([]*checkpoint.Checkpoint, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to list checkpoints")
	}

	var cps []*checkpoint.Checkpoint
	for _, k := range keys {
		if !strings.HasPrefix(k, keyPrefix) {
			continue
		}
		cp, err := s.Get(ctx, strings.TrimPrefix(k, keyPrefix))
		if errors.Is(err, checkpoint.ErrNotFound) {
			// deleted since the keys were listed
			continue
		}
		if err != nil {
			return nil, err
		}
		if keep(cp) {
			cps = append(cps, cp)
		}
	}

	return cps, nil
}
