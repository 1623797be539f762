// Package memory is an in-memory checkpoint store, for tests and single process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
)

var _ checkpoint.Store = (*Store)(nil)

// Store keeps checkpoints in maps. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*checkpoint.Checkpoint
	// executions indexes the checkpoint ids by execution id.
	executions map[string]map[string]struct{}
	now        checkpoint.Clock
}

// Option configures the Store.
type Option func(s *Store)

// WithClock sets the clock used by CleanupExpired.
func WithClock(now checkpoint.Clock) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		checkpoints: make(map[string]*checkpoint.Checkpoint),
		executions:  make(map[string]map[string]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.checkpoints[cp.ID]; ok && prev.ExecutionID != cp.ExecutionID {
		s.unindex(prev)
	}
	s.checkpoints[cp.ID] = cp.Clone()
	ids, ok := s.executions[cp.ExecutionID]
	if !ok {
		ids = make(map[string]struct{})
		s.executions[cp.ExecutionID] = ids
	}
	ids[cp.ID] = struct{}{}

	return nil
}

func (s *Store) Get(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}

	return cp.Clone(), nil
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

func (s *Store) GetAll(_ context.Context, executionID string) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.executions[executionID]
	cps := make([]*checkpoint.Checkpoint, 0, len(ids))
	for id := range ids {
		cps = append(cps, s.checkpoints[id].Clone())
	}
	checkpoint.SortOldestFirst(cps)

	return cps, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status checkpoint.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil
	}
	cp.Status = status
	cp.Error = errMsg

	return nil
}

func (s *Store) Claim(_ context.Context, id string, to checkpoint.Status) (*checkpoint.Checkpoint, error) {
	if err := checkpoint.ValidateClaim(to); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	if !cp.Status.Resumable() {
		return nil, checkpoint.ErrNotClaimable
	}
	cp.Status = to

	return cp.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[id]; ok {
		s.unindex(cp)
		delete(s.checkpoints, id)
	}

	return nil
}

func (s *Store) DeleteAll(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.executions[executionID] {
		delete(s.checkpoints, id)
	}
	delete(s.executions, executionID)

	return nil
}

func (s *Store) GetResumable(_ context.Context, pipelineName string) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cps []*checkpoint.Checkpoint
	for _, cp := range s.checkpoints {
		if !cp.Status.Resumable() {
			continue
		}
		if pipelineName != "" && cp.PipelineName != pipelineName {
			continue
		}
		cps = append(cps, cp.Clone())
	}
	checkpoint.SortNewestFirst(cps)

	return cps, nil
}

func (s *Store) CleanupExpired(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, cp := range s.checkpoints {
		if !checkpoint.Expired(cp, now, olderThan) {
			continue
		}
		s.unindex(cp)
		delete(s.checkpoints, id)
		removed++
	}

	return removed, nil
}

// unindex removes cp from the execution index. s.mu must be held.
func (s *Store) unindex(cp *checkpoint.Checkpoint) {
	ids, ok := s.executions[cp.ExecutionID]
	if !ok {
		return
	}
	delete(ids, cp.ID)
	if len(ids) == 0 {
		delete(s.executions, cp.ExecutionID)
	}
}

// Len returns the number of stored checkpoints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.checkpoints)
}
