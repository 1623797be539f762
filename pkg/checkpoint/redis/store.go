// Package redis implements checkpoint.Store on Redis.
//
// Checkpoints are stored as JSON strings and indexed with sorted sets. Every read-modify-write runs
// in a WATCH transaction, which is what makes Claim and UpdateStatus atomic per checkpoint.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	store := redis.New(client)
package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
)

const (
	defaultPrefix = "orchestrator:"
	// maxTxAttempts bounds the optimistic transaction retries on a contended key.
	maxTxAttempts = 64
)

var ErrContention = errors.New("checkpoint is contended")

var _ checkpoint.Store = (*Store)(nil)

// Store is a checkpoint store backed by Redis. The caller owns the client.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    checkpoint.Clock
}

// Option configures the Store.
type Option func(s *Store)

// WithPrefix sets the prefix of every key. Defaults to "orchestrator:".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock sets the clock used by CleanupExpired.
func WithClock(now checkpoint.Clock) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store using client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Ping checks the connection to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "unable to ping redis")
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "unable to encode checkpoint")
	}

	key := s.checkpointKey(cp.ID)
	err = s.watch(ctx, func(tx *goredis.Tx) error {
		prev, err := s.read(ctx, tx, cp.ID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if prev != nil && prev.ExecutionID != cp.ExecutionID {
				pipe.ZRem(ctx, s.executionKey(prev.ExecutionID), cp.ID)
			}
			z := goredis.Z{Score: score(cp.CreatedAt), Member: cp.ID}
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.executionKey(cp.ExecutionID), z)
			pipe.ZAdd(ctx, s.createdKey(), z)
			s.indexStatus(ctx, pipe, cp)

			return nil
		})

		return err
	}, key)

	return errors.Wrapf(err, "unable to save checkpoint %s", cp.ID)
}

func (s *Store) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	cp, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, checkpoint.ErrNotFound
	}

	return cp, nil
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
	ids, err := s.client.ZRange(ctx, s.executionKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list checkpoints of %s", executionID)
	}
	cps, err := s.load(ctx, ids)
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

// update applies fn to the stored checkpoint in a transaction.
func (s *Store) update(ctx context.Context, id string, fn func(cp *checkpoint.Checkpoint) error) error {
	key := s.checkpointKey(id)

	return s.watch(ctx, func(tx *goredis.Tx) error {
		cp, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if cp == nil {
			return checkpoint.ErrNotFound
		}
		if err = fn(cp); err != nil {
			return err
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return errors.Wrap(err, "unable to encode checkpoint")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexStatus(ctx, pipe, cp)

			return nil
		})

		return err
	}, key)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.delete(ctx, id)
	return err
}

func (s *Store) delete(ctx context.Context, id string) (bool, error) {
	key := s.checkpointKey(id)
	deleted := false
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		cp, err := s.read(ctx, tx, id)
		if err != nil || cp == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.executionKey(cp.ExecutionID), id)
			pipe.ZRem(ctx, s.createdKey(), id)
			pipe.ZRem(ctx, s.resumableKey(), id)

			return nil
		})
		deleted = err == nil

		return err
	}, key)
	if err != nil {
		return false, errors.Wrapf(err, "unable to delete checkpoint %s", id)
	}

	return deleted, nil
}

func (s *Store) DeleteAll(ctx context.Context, executionID string) error {
	ids, err := s.client.ZRange(ctx, s.executionKey(executionID), 0, -1).Result()
	if err != nil {
		return errors.Wrapf(err, "unable to list checkpoints of %s", executionID)
	}
	for _, id := range ids {
		if err = s.Delete(ctx, id); err != nil {
			return err
		}
	}

	return errors.Wrap(s.client.Del(ctx, s.executionKey(executionID)).Err(), "unable to delete execution index")
}

func (s *Store) GetResumable(ctx context.Context, pipelineName string) ([]*checkpoint.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.resumableKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "unable to list resumable checkpoints")
	}
	cps, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	filtered := cps[:0]
	for _, cp := range cps {
		if !cp.Status.Resumable() || (pipelineName != "" && cp.PipelineName != pipelineName) {
			continue
		}
		filtered = append(filtered, cp)
	}
	checkpoint.SortNewestFirst(filtered)

	return filtered, nil
}

func (s *Store) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-olderThan)
	ids, err := s.client.ZRangeByScore(ctx, s.createdKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "unable to list expired checkpoints")
	}
	cps, err := s.load(ctx, ids)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, cp := range cps {
		if !checkpoint.Expired(cp, now, olderThan) {
			continue
		}
		deleted, err := s.delete(ctx, cp.ID)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}

	return removed, nil
}

// indexStatus keeps the resumable index in line with the status of cp.
func (s *Store) indexStatus(ctx context.Context, pipe goredis.Pipeliner, cp *checkpoint.Checkpoint) {
	if cp.Status.Resumable() {
		pipe.ZAdd(ctx, s.resumableKey(), goredis.Z{Score: score(cp.CreatedAt), Member: cp.ID})
		return
	}
	pipe.ZRem(ctx, s.resumableKey(), cp.ID)
}

// read returns nil when the checkpoint does not exist.
func (s *Store) read(ctx context.Context, cmd goredis.Cmdable, id string) (*checkpoint.Checkpoint, error) {
	data, err := cmd.Get(ctx, s.checkpointKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read checkpoint %s", id)
	}

	return decode(data)
}

func (s *Store) load(ctx context.Context, ids []string) ([]*checkpoint.Checkpoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read checkpoints")
	}

	cps := make([]*checkpoint.Checkpoint, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// removed since the index was read
			continue
		}
		cp, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}

	return cps, nil
}

func decode(data []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(err, "unable to decode checkpoint")
	}

	return &cp, nil
}

// watch runs fn in a WATCH transaction on keys, retrying while another client modifies them.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}

		return err
	}

	return errors.Wrapf(ErrContention, "keys %v", keys)
}
