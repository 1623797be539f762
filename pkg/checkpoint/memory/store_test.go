package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/checkpointtest"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/memory"
)

func TestStore(t *testing.T) {
	t.Parallel()

	checkpointtest.Run(t, func(t *testing.T) checkpoint.Store {
		return memory.New()
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	cp := checkpointtest.New("exec-1", 0, checkpoint.StatusPaused, time.Now())
	require.NoError(t, s.Save(ctx, cp))

	cp.Metadata["tenant"] = "changed"
	got, err := s.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Metadata["tenant"])

	got.State[0] = 'x'
	again, err := s.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), again.State[0])
}

func TestStoreClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	current := created.Add(30 * time.Minute)
	s := memory.New(memory.WithClock(func() time.Time { return current }))
	require.NoError(t, s.Save(ctx, checkpointtest.New("exec-1", 0, checkpoint.StatusPaused, created)))

	removed, err := s.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	current = created.Add(2 * time.Hour)
	removed, err = s.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, s.Len())
}
