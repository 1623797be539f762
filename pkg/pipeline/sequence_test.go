package pipeline_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/codec"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/memory"
	"github.com/askiada/go-orchestrator/pkg/pipeline"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

func statuses(cps []*checkpoint.Checkpoint) []checkpoint.Status {
	out := make([]checkpoint.Status, len(cps))
	for i, cp := range cps {
		out[i] = cp.Status
	}

	return out
}

func TestSequenceExecute(t *testing.T) {
	t.Parallel()

	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout").AddStep(
		tracedOperation("reserve", exec, rb),
		tracedOperation("charge", exec, rb),
		tracedOperation("ship", exec, rb),
	)
	pctx := pipeline.NewContext()
	pctx.Set("order", "o-1")
	res, err := seq.Execute(context.Background(), pctx)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, model.StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.StepIndex)
	assert.Same(t, pctx, res.Context)
	assert.Equal(t, []string{"order", "reserve", "charge", "ship"}, pctx.Keys())
	assert.NoError(t, res.Err())
}

func TestSequenceContinueOnFail(t *testing.T) {
	t.Parallel()

	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout", pipeline.BreakOnFail(false)).AddStep(
		tracedOperation("reserve", exec, rb),
		failingOperation("charge", exec, rb),
		tracedOperation("ship", exec, rb),
	)
	res, err := seq.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, []string{"reserve", "charge", "ship"}, exec.list())
	require.ErrorIs(t, res.Err(), errBoom)
	assert.Empty(t, rb.list())
}

func TestSequenceAllowPropagateError(t *testing.T) {
	t.Parallel()

	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout", pipeline.AllowPropagateError(true)).AddStep(
		tracedOperation("reserve", exec, rb),
		failingOperation("charge", exec, rb),
	)
	res, err := seq.Execute(context.Background(), nil)
	var aggErr *pipeline.AggregateError
	require.ErrorAs(t, err, &aggErr)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, model.StatusFailed, res.Status)
}

func TestSequenceCheckpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout",
		pipeline.WithCheckpoints(store),
		pipeline.KeepCompletedCheckpoints(true),
		pipeline.WithCorrelationID("order-1"),
		pipeline.WithMetadata(map[string]string{"tenant": "acme"}),
	).AddStep(
		tracedOperation("reserve", exec, rb),
		tracedOperation("charge", exec, rb),
		tracedOperation("ship", exec, rb),
	)
	res, err := seq.Execute(ctx, nil)
	require.NoError(t, err)
	require.True(t, res.Success())

	cps, err := store.GetAll(ctx, res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, []checkpoint.Status{
		checkpoint.StatusInProgress,
		checkpoint.StatusInProgress,
		checkpoint.StatusCompleted,
	}, statuses(cps))
	for i, cp := range cps {
		assert.Equal(t, checkpoint.NewID(res.ExecutionID, i), cp.ID)
		assert.Equal(t, i, cp.StepIndex)
		assert.Equal(t, "checkout", cp.PipelineName)
		assert.Equal(t, "order-1", cp.CorrelationID)
		assert.Equal(t, map[string]string{"tenant": "acme"}, cp.Metadata)
		assert.Equal(t, "pipeline.context/v1+json", cp.StateType)
	}
	assert.Equal(t, "reserve", cps[0].StepName)
	assert.Equal(t, "0:reserve", cps[0].StepID)

	restored, err := pipeline.Restore(codec.JSON, cps[0].State)
	require.NoError(t, err)
	assert.Equal(t, []string{"reserve"}, restored.Keys())
}

// runStarted calls fn when a run starts.
type runStarted struct {
	model.NopObserver
	fn func(run model.RunInfo)
}

func (o runStarted) OnRunStart(run model.RunInfo) { o.fn(run) }

func TestSequenceCheckpointsDuringRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	var (
		executionID string
		seen        []*checkpoint.Checkpoint
	)
	obs := runStarted{fn: func(run model.RunInfo) { executionID = run.ExecutionID }}
	seq := pipeline.NewSequence("checkout",
		pipeline.WithCheckpoints(store),
		pipeline.WithCodec(codec.YAML),
		pipeline.WithObserver(obs),
	).AddStep(
		pipeline.NewOperation("reserve", func(pctx *pipeline.Context) error {
			pctx.Set("stock", 3)
			return nil
		}),
		pipeline.NewContextOperation("inspect", func(ctx context.Context, _ *pipeline.Context) error {
			var err error
			seen, err = store.GetAll(ctx, executionID)

			return err
		}),
	)
	res, err := seq.Execute(ctx, nil)
	require.NoError(t, err)
	require.True(t, res.Success())
	require.Len(t, seen, 1)
	assert.Equal(t, checkpoint.StatusInProgress, seen[0].Status)
	assert.Equal(t, "pipeline.context/v1+yaml", seen[0].StateType)
	restored, err := pipeline.Restore(codec.YAML, seen[0].State)
	require.NoError(t, err)
	stock, ok := pipeline.Value[int](restored, "stock")
	require.True(t, ok)
	assert.Equal(t, 3, stock)

	// completed executions leave nothing behind
	cps, err := store.GetAll(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Empty(t, cps)
	assert.Equal(t, 0, store.Len())
}

func TestSequencePauseResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	exec, rb := &trace{}, &trace{}
	var approved atomic.Bool
	seq := pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store), pipeline.WithMetadata(map[string]string{"tenant": "acme"}))
	seq.AddStep(
		tracedOperation("reserve", exec, rb),
		pipeline.NewOperation("approve", func(pctx *pipeline.Context) error {
			if !approved.Load() {
				pctx.RequestPause("waiting for approval")
			}
			pctx.Set("total", 42)

			return nil
		}),
		pipeline.NewOperation("ship", func(pctx *pipeline.Context) error {
			exec.add("ship")
			total, ok := pipeline.Value[int](pctx, "total")
			if !ok || total != 42 {
				return errBoom
			}

			return nil
		}),
	)

	res, err := seq.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, res.Status)
	assert.Equal(t, "waiting for approval", res.PauseReason)
	assert.Equal(t, 1, res.StepIndex)
	assert.Equal(t, []string{"reserve"}, exec.list())

	latest, err := store.GetLatest(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusPaused, latest.Status)
	assert.Equal(t, 1, latest.StepIndex)
	assert.Equal(t, map[string]string{
		"tenant":                     "acme",
		pipeline.MetadataPauseReason: "waiting for approval",
	}, latest.Metadata)

	resumable, err := store.GetResumable(ctx, "checkout")
	require.NoError(t, err)
	require.Len(t, resumable, 1)

	approved.Store(true)
	resumed, err := seq.Resume(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.True(t, resumed.Success())
	assert.Equal(t, res.ExecutionID, resumed.ExecutionID)
	assert.Equal(t, []string{"reserve", "ship"}, exec.list())
	assert.True(t, resumed.Context.Has("reserve"))
	assert.Equal(t, 0, store.Len())
}

func TestSequenceResumeFailedStep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	exec, rb := &trace{}, &trace{}
	var attempts atomic.Int32
	var sawPartialState atomic.Bool
	seq := pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store))
	seq.AddStep(
		tracedOperation("reserve", exec, rb),
		pipeline.NewOperation("charge", func(pctx *pipeline.Context) error {
			if pctx.Has("charge.partial") {
				sawPartialState.Store(true)
			}
			if attempts.Add(1) == 1 {
				pctx.Set("charge.partial", true)
				return errBoom
			}

			return nil
		}),
		tracedOperation("ship", exec, rb),
	)

	res, err := seq.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)

	latest, err := store.GetLatest(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, latest.Status)
	assert.Equal(t, 1, latest.StepIndex)
	assert.Equal(t, "boom", latest.Error)
	assert.NotContains(t, latest.Metadata, pipeline.MetadataRestartIndex)

	resumed, err := seq.Resume(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.True(t, resumed.Success())
	assert.EqualValues(t, 2, attempts.Load())
	// the failed step starts again from the state saved before it ran
	assert.False(t, sawPartialState.Load())
	assert.Equal(t, []string{"reserve", "ship"}, exec.list())
}

func TestSequenceResumeAfterRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	exec, rb := &trace{}, &trace{}
	var attempts atomic.Int32
	seq := pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store), pipeline.ForceRollbackOnFailure(true))
	seq.AddStep(
		tracedOperation("reserve", exec, rb),
		tracedOperation("charge", exec, rb),
		pipeline.NewOperation("ship", func(*pipeline.Context) error {
			if attempts.Add(1) == 1 {
				return errBoom
			}

			return nil
		}),
	)

	res, err := seq.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, []string{"charge", "reserve"}, rb.list())
	assert.Equal(t, []string{"charge", "reserve"}, res.Compensation.Steps())

	latest, err := store.GetLatest(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, latest.Status)
	assert.Equal(t, "0", latest.Metadata[pipeline.MetadataRestartIndex])
	restored, err := pipeline.Restore(codec.JSON, latest.State)
	require.NoError(t, err)
	assert.Zero(t, restored.Len())

	resumed, err := seq.Resume(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.True(t, resumed.Success())
	// the rolled back steps run again
	assert.Equal(t, []string{"reserve", "charge", "reserve", "charge"}, exec.list())
}

func TestSequenceResumeNext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	var shipped atomic.Int32
	var resume atomic.Bool
	newSequence := func() *pipeline.Sequence {
		return pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store)).AddStep(
			pipeline.NewOperation("approve", func(pctx *pipeline.Context) error {
				if !resume.Load() {
					pctx.RequestPause("waiting for approval")
				}

				return nil
			}),
			pipeline.NewOperation("ship", func(*pipeline.Context) error {
				shipped.Add(1)
				return nil
			}),
		)
	}

	res, err := newSequence().Execute(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusPaused, res.Status)
	resume.Store(true)

	const workers = 8
	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := newSequence().ResumeNext(ctx)
			assert.NoError(t, err)
			if ok {
				claimed.Add(1)
				assert.Equal(t, res.ExecutionID, got.ExecutionID)
				assert.True(t, got.Success())
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, claimed.Load())
	assert.EqualValues(t, 1, shipped.Load())

	_, ok, err := newSequence().ResumeNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSequenceResumeNextOtherPipeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Save(ctx, &checkpoint.Checkpoint{
		ID:           checkpoint.NewID("exec-1", 0),
		ExecutionID:  "exec-1",
		PipelineName: "refunds",
		Status:       checkpoint.StatusPaused,
	}))

	_, ok, err := pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store)).ResumeNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSequenceWithoutStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	seq := pipeline.NewSequence("checkout")
	_, err := seq.Resume(ctx, "exec-1")
	require.ErrorIs(t, err, pipeline.ErrNoCheckpointStore)
	_, err = seq.ResumeCheckpoint(ctx, &checkpoint.Checkpoint{ExecutionID: "exec-1"})
	require.ErrorIs(t, err, pipeline.ErrNoCheckpointStore)
	_, _, err = seq.ResumeNext(ctx)
	require.ErrorIs(t, err, pipeline.ErrNoCheckpointStore)
}

func TestSequenceNotResumable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store), pipeline.KeepCompletedCheckpoints(true)).
		AddStep(tracedOperation("reserve", exec, rb))
	res, err := seq.Execute(ctx, nil)
	require.NoError(t, err)
	require.True(t, res.Success())

	_, err = seq.Resume(ctx, res.ExecutionID)
	require.ErrorIs(t, err, pipeline.ErrNotResumable)

	cp, err := store.GetLatest(ctx, res.ExecutionID)
	require.NoError(t, err)
	cp.Status = checkpoint.StatusPaused
	other := pipeline.NewSequence("refunds", pipeline.WithCheckpoints(store))
	_, err = other.ResumeCheckpoint(ctx, cp)
	require.ErrorIs(t, err, pipeline.ErrNotResumable)

	_, err = seq.Resume(ctx, "unknown")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSequenceStoreFailure(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memory.New()}
	store.arm()
	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store)).
		AddStep(tracedOperation("reserve", exec, rb), tracedOperation("ship", exec, rb))
	res, err := seq.Execute(context.Background(), nil)
	require.ErrorIs(t, err, errStore)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, []string{"reserve"}, exec.list())
}

func TestSequenceCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout", pipeline.WithCheckpoints(store)).AddStep(
		pipeline.NewOperation("cancel", func(*pipeline.Context) error {
			cancel()
			return nil
		}),
		tracedOperation("ship", exec, rb),
	)
	res, err := seq.Execute(ctx, nil)
	require.ErrorIs(t, err, pipeline.ErrCancelled)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.False(t, res.Success())
	assert.Empty(t, exec.list())

	// the step run before the cancellation is checkpointed, the execution can go on
	latest, err := store.GetLatest(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusInProgress, latest.Status)
	assert.Equal(t, 0, latest.StepIndex)
}

func TestSequenceLayout(t *testing.T) {
	t.Parallel()

	exec, rb := &trace{}, &trace{}
	seq := pipeline.NewSequence("checkout").AddStep(
		tracedOperation("reserve", exec, rb),
		pipeline.NewParallelGroup("notify").Add(tracedOperation("email", exec, rb), tracedOperation("sms", exec, rb)),
	)
	nodes := seq.Layout()
	require.Len(t, nodes, 2)
	assert.Equal(t, model.ParallelKind, nodes[1].Info.Kind)
	assert.Equal(t, "checkout", nodes[1].Info.Pipeline)
	require.Len(t, nodes[1].Children, 2)
	assert.Equal(t, "notify", nodes[1].Children[1].Info.Parent)
	assert.Equal(t, 1, nodes[1].Children[1].Info.Index)
}
