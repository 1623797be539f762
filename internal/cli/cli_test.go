package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-orchestrator/internal/cli"
	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/checkpointtest"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/redis"
)

type env struct {
	cfgFile string
	store   *redis.Store
}

// newEnv writes a config pointing at a fresh redis and seeds it with the checkpoints of two executions.
func newEnv(t *testing.T) env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		assert.NoError(t, client.Close())
	})
	s := redis.New(client)

	ctx := context.Background()
	now := time.Now()
	for _, cp := range []*checkpoint.Checkpoint{
		checkpointtest.New("exec-1", 0, checkpoint.StatusInProgress, now.Add(-3*time.Hour)),
		checkpointtest.New("exec-1", 1, checkpoint.StatusFailed, now.Add(-2*time.Hour)),
		checkpointtest.New("exec-2", 0, checkpoint.StatusPaused, now.Add(-time.Minute)),
	} {
		require.NoError(t, s.Save(ctx, cp))
	}

	cfgFile := filepath.Join(t.TempDir(), "orchestrator.yaml")
	content := "checkpoint:\n  backend: redis\n  retention: 1h\n  redis:\n    addrs: [\"" + mr.Addr() + "\"]\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o600))

	return env{cfgFile: cfgFile, store: s}
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.cfgFile}, args...))
	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestResumable(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	out, err := e.run(t, "resumable", "-o", "json")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "exec-2", rows[0]["execution_id"])
	assert.Equal(t, "exec-1", rows[1]["execution_id"])
	assert.Equal(t, "failed", rows[1]["status"])
	assert.NotContains(t, out, "state")
}

func TestResumableTable(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	out, err := e.run(t, "resumable", "--pipeline", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "EXECUTION")
	assert.Contains(t, out, "exec-2")

	out, err = e.run(t, "resumable", "--pipeline", "invoices")
	require.NoError(t, err)
	assert.NotContains(t, out, "exec-")
}

func TestHistory(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	out, err := e.run(t, "history", "exec-1", "-o", "yaml")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0]["step_index"])
	assert.Equal(t, 1, rows[1]["step_index"])

	_, err = e.run(t, "history", "exec-3")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestClaim(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id := checkpoint.NewID("exec-2", 0)
	out, err := e.run(t, "claim", id)
	require.NoError(t, err)
	assert.Contains(t, out, "in_progress")

	_, err = e.run(t, "claim", id)
	require.ErrorIs(t, err, checkpoint.ErrNotClaimable)

	cp, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusInProgress, cp.Status)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	out, err := e.run(t, "delete", "exec-1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted checkpoints of exec-1")

	cps, err := e.store.GetAll(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	out, err := e.run(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 2 checkpoints older than 1h0m0s")

	out, err = e.run(t, "cleanup", "--older-than", "30s")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 checkpoints")
}

func TestInvalidOutput(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	_, err := e.run(t, "resumable", "-o", "xml")
	require.Error(t, err)
}

func TestBackendFlag(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	out, err := e.run(t, "resumable", "--backend", "memory", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}
