// Package checkpointtest holds the conformance suite every checkpoint.Store passes.
package checkpointtest

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
)

// Factory returns an empty store. It is called once per sub test.
type Factory func(t *testing.T) checkpoint.Store

// Run runs the conformance suite against the stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s checkpoint.Store)
	}{
		{"RoundTrip", testRoundTrip},
		{"NotFound", testNotFound},
		{"SaveReplaces", testSaveReplaces},
		{"SaveInvalid", testSaveInvalid},
		{"GetLatest", testGetLatest},
		{"GetAllOrder", testGetAllOrder},
		{"UpdateStatus", testUpdateStatus},
		{"Delete", testDelete},
		{"DeleteAll", testDeleteAll},
		{"GetResumable", testGetResumable},
		{"Claim", testClaim},
		{"ClaimConcurrent", testClaimConcurrent},
		{"CleanupExpired", testCleanupExpired},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// New returns a checkpoint of executionID at step, created at createdAt.
func New(executionID string, step int, status checkpoint.Status, createdAt time.Time) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:            checkpoint.NewID(executionID, step),
		ExecutionID:   executionID,
		PipelineName:  "orders",
		StepIndex:     step,
		StepID:        "step-" + strconv.Itoa(step),
		StepName:      "reserve",
		State:         []byte(`{"entries":[{"key":"total","value":"42"}]}`),
		StateType:     "pipeline.context/v1+json",
		Status:        status,
		CreatedAt:     createdAt.UTC().Truncate(time.Microsecond),
		CorrelationID: "corr-" + executionID,
		Metadata:      map[string]string{"tenant": "acme"},
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func testRoundTrip(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	cp := New("exec-1", 0, checkpoint.StatusFailed, now())
	cp.Error = "boom"

	require.NoError(t, s.Save(ctx, cp))
	got, err := s.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp, got)
}

func testNotFound(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, err = s.GetLatest(ctx, "missing")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	cps, err := s.GetAll(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func testSaveReplaces(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	cp := New("exec-1", 0, checkpoint.StatusInProgress, now())
	require.NoError(t, s.Save(ctx, cp))

	cp.Status = checkpoint.StatusFailed
	cp.Error = "boom"
	require.NoError(t, s.Save(ctx, cp))

	cps, err := s.GetAll(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, checkpoint.StatusFailed, cps[0].Status)
	assert.Equal(t, "boom", cps[0].Error)
}

func testSaveInvalid(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()

	require.Error(t, s.Save(ctx, nil))
	cp := New("exec-1", 0, checkpoint.StatusInProgress, now())
	cp.ID = ""
	require.ErrorIs(t, s.Save(ctx, cp), checkpoint.ErrInvalidCheckpoint)
	cp = New("exec-1", 0, "unknown", now())
	require.ErrorIs(t, s.Save(ctx, cp), checkpoint.ErrInvalidCheckpoint)
}

func testGetLatest(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	base := now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, New("exec-1", i, checkpoint.StatusInProgress, base.Add(time.Duration(i)*time.Second))))
	}

	first, err := s.GetLatest(ctx, "exec-1")
	require.NoError(t, err)
	second, err := s.GetLatest(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, first.StepIndex)
}

func testGetAllOrder(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	base := now().Add(-time.Minute)
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, s.Save(ctx, New("exec-1", i, checkpoint.StatusInProgress, base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.Save(ctx, New("exec-2", 0, checkpoint.StatusInProgress, base)))

	cps, err := s.GetAll(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	for i, cp := range cps {
		assert.Equal(t, i, cp.StepIndex)
		assert.Equal(t, "exec-1", cp.ExecutionID)
	}
}

func testUpdateStatus(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	cp := New("exec-1", 0, checkpoint.StatusInProgress, now())
	require.NoError(t, s.Save(ctx, cp))

	require.NoError(t, s.UpdateStatus(ctx, cp.ID, checkpoint.StatusFailed, "boom"))
	got, err := s.Get(ctx, cp.ID)
	require.NoError(t, err)

	want := cp.Clone()
	want.Status = checkpoint.StatusFailed
	want.Error = "boom"
	assert.Equal(t, want, got)

	require.NoError(t, s.UpdateStatus(ctx, "missing", checkpoint.StatusFailed, ""))
	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func testDelete(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	base := now()
	first := New("exec-1", 0, checkpoint.StatusInProgress, base)
	second := New("exec-1", 1, checkpoint.StatusInProgress, base.Add(time.Second))
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	require.NoError(t, s.Delete(ctx, second.ID))
	require.NoError(t, s.Delete(ctx, "missing"))

	_, err := s.Get(ctx, second.ID)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	cps, err := s.GetAll(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, first.ID, cps[0].ID)
	latest, err := s.GetLatest(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
}

func testDeleteAll(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	base := now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, New("exec-1", i, checkpoint.StatusInProgress, base.Add(time.Duration(i)*time.Second))))
	}
	other := New("exec-2", 0, checkpoint.StatusPaused, base)
	require.NoError(t, s.Save(ctx, other))

	require.NoError(t, s.DeleteAll(ctx, "exec-1"))

	cps, err := s.GetAll(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, cps)
	_, err = s.Get(ctx, checkpoint.NewID("exec-1", 1))
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	got, err := s.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other, got)
}

func testGetResumable(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	base := now().Add(-time.Minute)

	paused := New("exec-1", 1, checkpoint.StatusPaused, base)
	failed := New("exec-2", 3, checkpoint.StatusFailed, base.Add(2*time.Second))
	running := New("exec-3", 0, checkpoint.StatusInProgress, base.Add(3*time.Second))
	completed := New("exec-4", 2, checkpoint.StatusCompleted, base.Add(4*time.Second))
	otherPipeline := New("exec-5", 0, checkpoint.StatusPaused, base.Add(time.Second))
	otherPipeline.PipelineName = "invoices"
	for _, cp := range []*checkpoint.Checkpoint{paused, failed, running, completed, otherPipeline} {
		require.NoError(t, s.Save(ctx, cp))
	}

	cps, err := s.GetResumable(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{failed.ID, otherPipeline.ID, paused.ID}, ids(cps))

	cps, err = s.GetResumable(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{failed.ID, paused.ID}, ids(cps))

	require.NoError(t, s.UpdateStatus(ctx, failed.ID, checkpoint.StatusCompleted, ""))
	cps, err = s.GetResumable(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{paused.ID}, ids(cps))
}

func testClaim(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	cp := New("exec-1", 1, checkpoint.StatusPaused, now())
	require.NoError(t, s.Save(ctx, cp))

	claimed, err := s.Claim(ctx, cp.ID, checkpoint.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusInProgress, claimed.Status)
	assert.Equal(t, cp.StepIndex, claimed.StepIndex)

	_, err = s.Claim(ctx, cp.ID, checkpoint.StatusInProgress)
	require.ErrorIs(t, err, checkpoint.ErrNotClaimable)
	_, err = s.Claim(ctx, "missing", checkpoint.StatusInProgress)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, err = s.Claim(ctx, cp.ID, checkpoint.StatusPaused)
	require.ErrorIs(t, err, checkpoint.ErrInvalidCheckpoint)

	cps, err := s.GetResumable(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func testClaimConcurrent(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	cp := New("exec-1", 1, checkpoint.StatusFailed, now())
	require.NoError(t, s.Save(ctx, cp))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		won  int
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Claim(ctx, cp.ID, checkpoint.StatusInProgress)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	require.Len(t, errs, workers-1)
	for _, err := range errs {
		assert.ErrorIs(t, err, checkpoint.ErrNotClaimable)
	}
}

func testCleanupExpired(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	recent := New("exec-1", 0, checkpoint.StatusPaused, time.Now().Add(-30*time.Minute))
	old := New("exec-2", 0, checkpoint.StatusPaused, time.Now().Add(-2*time.Hour))
	require.NoError(t, s.Save(ctx, recent))
	require.NoError(t, s.Save(ctx, old))

	removed, err := s.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, old.ID)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	cps, err := s.GetAll(ctx, "exec-2")
	require.NoError(t, err)
	assert.Empty(t, cps)
	_, err = s.Get(ctx, recent.ID)
	require.NoError(t, err)
}

func ids(cps []*checkpoint.Checkpoint) []string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.ID
	}

	return out
}
