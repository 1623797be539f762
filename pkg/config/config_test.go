package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/codec"
	"github.com/askiada/go-orchestrator/pkg/config"
	"github.com/askiada/go-orchestrator/pkg/pipeline"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0o600))

	return filePath
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, pipeline.DefaultOptions(), cfg.Pipeline)
	assert.Equal(t, config.BackendMemory, cfg.Checkpoint.Backend)
	assert.Equal(t, 168*time.Hour, cfg.Checkpoint.Retention)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Checkpoint.Redis.Addrs)
	assert.Equal(t, "zap", cfg.Log.Backend)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, `
pipeline:
  break_on_fail: false
  force_rollback_on_failure: true
log:
  backend: zerolog
  level: debug
checkpoint:
  backend: redis
  codec: yaml
  retention: 30m
  redis:
    addrs: ["redis-1:6379", "redis-2:6379"]
    prefix: "orders:"
`))
	require.NoError(t, err)

	assert.Equal(t, pipeline.Options{ForceRollbackOnFailure: true}, cfg.Pipeline)
	assert.Equal(t, "zerolog", cfg.Log.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Checkpoint.Retention)
	assert.Equal(t, []string{"redis-1:6379", "redis-2:6379"}, cfg.Checkpoint.Redis.Addrs)
	assert.Equal(t, "orders:", cfg.Checkpoint.Redis.Prefix)
	// unset keys keep their default
	assert.Equal(t, "nats://localhost:4222", cfg.Checkpoint.NATS.URL)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("ORCHESTRATOR_CHECKPOINT_BACKEND", "sql")
	t.Setenv("ORCHESTRATOR_CHECKPOINT_SQL_DSN", "postgres://localhost/orders")
	t.Setenv("ORCHESTRATOR_PIPELINE_ALLOW_PROPAGATE_ERROR", "true")

	cfg, err := config.Load(writeConfig(t, "checkpoint:\n  backend: nats\n"))
	require.NoError(t, err)

	assert.Equal(t, config.BackendSQL, cfg.Checkpoint.Backend)
	assert.Equal(t, "postgres://localhost/orders", cfg.Checkpoint.SQL.DSN)
	assert.True(t, cfg.Pipeline.AllowPropagateError)
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	for name, content := range map[string]string{
		"backend":   "checkpoint:\n  backend: etcd\n",
		"sql dsn":   "checkpoint:\n  backend: sql\n",
		"codec":     "checkpoint:\n  codec: xml\n",
		"log":       "log:\n  backend: logrus\n",
		"format":    "log:\n  format: xml\n",
		"retention": "checkpoint:\n  retention: -1h\n",
	} {
		content := content
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Load(writeConfig(t, content))
			require.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}

	_, err := config.Load(writeConfig(t, "pipeline: ["))
	require.Error(t, err)
}

func TestPipelineOptions(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, "checkpoint:\n  codec: yaml\n  keep_completed: true\n"))
	require.NoError(t, err)
	opts, err := cfg.PipelineOptions()
	require.NoError(t, err)

	ctx := context.Background()
	s, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	defer s.Close()

	seq := pipeline.NewSequence("orders", append(opts, pipeline.WithCheckpoints(s))...).
		AddStep(pipeline.NewOperation("validate", func(*pipeline.Context) error { return nil }))
	res, err := seq.Execute(ctx, nil)
	require.NoError(t, err)
	require.True(t, res.Success())

	cp, err := s.GetLatest(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, cp.Status)
	assert.Equal(t, codec.StateType(pipeline.ContextShape, codec.YAML), cp.StateType)
}

func TestOpenStoreRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg, err := config.Load(writeConfig(t, "checkpoint:\n  backend: redis\n  redis:\n    addrs: [\""+mr.Addr()+"\"]\n"))
	require.NoError(t, err)

	ctx := context.Background()
	s, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, s.Close())
	}()

	cp := &checkpoint.Checkpoint{
		ID:           checkpoint.NewID("exec-1", 0),
		ExecutionID:  "exec-1",
		PipelineName: "orders",
		Status:       checkpoint.StatusPaused,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.Save(ctx, cp))
	assert.NotEmpty(t, mr.Keys())
}

func TestOpenStoreRedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg, err := config.Load(writeConfig(t, "checkpoint:\n  backend: redis\n  redis:\n    addrs: [\""+addr+"\"]\n"))
	require.NoError(t, err)

	_, err = cfg.OpenStore(context.Background())
	require.Error(t, err)
}

func TestOpenStoreNATS(t *testing.T) {
	t.Parallel()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)

	cfg, err := config.Load(writeConfig(t, "checkpoint:\n  backend: nats\n  nats:\n    url: "+srv.ClientURL()+"\n    bucket: orders\n"))
	require.NoError(t, err)

	ctx := context.Background()
	s, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetLatest(ctx, "exec-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestOpenStoreSQLInvalidDSN(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, "checkpoint:\n  backend: sql\n  sql:\n    dsn: \"postgres://%zz\"\n"))
	require.NoError(t, err)

	_, err = cfg.OpenStore(context.Background())
	require.Error(t, err)
}

func TestNewObserver(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{"zap", "zerolog"} {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			cfg, err := config.Load(writeConfig(t, "log:\n  backend: "+backend+"\n"))
			require.NoError(t, err)
			var buf bytes.Buffer
			obs, err := cfg.NewObserver(&buf)
			require.NoError(t, err)

			obs.OnRunStart(model.RunInfo{Pipeline: "orders", ExecutionID: "exec-1"})
			obs.OnStepStart(model.StepInfo{Name: "hidden at info level"})
			assert.Contains(t, buf.String(), `"execution_id":"exec-1"`)
			assert.NotContains(t, buf.String(), "hidden at info level")
		})
	}

	cfg, err := config.Load(writeConfig(t, "log:\n  backend: none\n"))
	require.NoError(t, err)
	obs, err := cfg.NewObserver(nil)
	require.NoError(t, err)
	assert.Equal(t, model.NopObserver{}, obs)

	cfg.Log.Level = "verbose"
	cfg.Log.Backend = "zap"
	_, err = cfg.NewObserver(nil)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
