package natskv_test

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/checkpointtest"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/natskv"
)

// runJetStream starts an embedded server with JetStream enabled.
func runJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()
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

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	return js
}

func TestStore(t *testing.T) {
	t.Parallel()

	js := runJetStream(t)
	var buckets atomic.Int32
	checkpointtest.Run(t, func(t *testing.T) checkpoint.Store {
		bucket := "checkpoints_" + strconv.Itoa(int(buckets.Add(1)))
		s, err := natskv.Open(context.Background(), js, bucket)
		require.NoError(t, err)

		return s
	})
}

func TestOpenExistingBucket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	js := runJetStream(t)
	first, err := natskv.Open(ctx, js, "checkpoints")
	require.NoError(t, err)
	cp := checkpointtest.New("exec-1", 0, checkpoint.StatusPaused, time.Now())
	require.NoError(t, first.Save(ctx, cp))

	second, err := natskv.Open(ctx, js, "checkpoints")
	require.NoError(t, err)
	got, err := second.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp, got)
}

func TestStoreIgnoresForeignKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	js := runJetStream(t)
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "shared"})
	require.NoError(t, err)
	_, err = kv.Put(ctx, "config.timeout", []byte("30s"))
	require.NoError(t, err)

	s := natskv.New(kv)
	require.NoError(t, s.Save(ctx, checkpointtest.New("exec-1", 0, checkpoint.StatusFailed, time.Now())))

	cps, err := s.GetResumable(ctx, "")
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}
