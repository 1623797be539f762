package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/codec"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

const (
	// ContextShape is the shape of the state stored in the checkpoints of a Sequence.
	ContextShape = "pipeline.context/v1"
	// MetadataRestartIndex is set on a failed checkpoint once the steps run before the failure have
	// been rolled back. Resuming such an execution starts over from the step it names.
	MetadataRestartIndex = "pipeline.restart_index"
	// MetadataPauseReason holds the reason given to RequestPause on a paused checkpoint.
	MetadataPauseReason = "pipeline.pause_reason"
)

// Sequence runs operations one after another against a shared Context.
//
// With a checkpoint store, the progress is saved after every step so that a paused or failed
// execution can be resumed, possibly by another process.
type Sequence struct {
	name     string
	settings settings
	steps    []unit
}

// NewSequence creates an empty sequence.
func NewSequence(name string, opts ...Option) *Sequence {
	s := &Sequence{
		name:     name,
		settings: newSettings(),
	}
	for _, opt := range opts {
		opt(&s.settings)
	}

	return s
}

func (s *Sequence) Name() string { return s.name }

// AddStep appends operations to the sequence.
func (s *Sequence) AddStep(ops ...Operation) *Sequence {
	s.steps = append(s.steps, bindAll(ops)...)
	return s
}

// Layout describes the steps of the sequence.
func (s *Sequence) Layout() []model.Node {
	sc := scope{observer: model.NopObserver{}, run: model.RunInfo{Pipeline: s.name}}
	nodes := make([]model.Node, len(s.steps))
	for i, u := range s.steps {
		nodes[i] = u.describe(sc, i)
	}

	return nodes
}

// SequenceResult is the outcome of a sequence run.
type SequenceResult struct {
	ExecutionID string
	// Status is one of StatusSucceeded, StatusFailed, StatusPaused or StatusCancelled.
	Status       model.Status
	Context      *Context
	Messages     []Message
	Compensation Compensation
	// StepIndex is the index of the last step run, -1 when none ran.
	StepIndex   int
	PauseReason string
}

func (r SequenceResult) Success() bool { return r.Status == model.StatusSucceeded }

// Err combines the errors of the error severity messages.
func (r SequenceResult) Err() error {
	errs := errorsOf(r.Messages)
	if len(errs) == 0 {
		return nil
	}

	return newAggregateError(errs...)
}

// Execute starts a new execution with pctx. A nil pctx is replaced by an empty context.
func (s *Sequence) Execute(ctx context.Context, pctx *Context) (SequenceResult, error) {
	if pctx == nil {
		pctx = NewContext()
	}
	run := model.RunInfo{Pipeline: s.name, ExecutionID: uuid.NewString()}

	return s.run(ctx, run, pctx)
}

// Resume continues the execution from its latest checkpoint.
//
// A paused or in progress execution continues with the step following the checkpoint. A failed
// execution runs the failed step again.
func (s *Sequence) Resume(ctx context.Context, executionID string) (SequenceResult, error) {
	if s.settings.store == nil {
		return SequenceResult{ExecutionID: executionID, StepIndex: -1}, ErrNoCheckpointStore
	}
	cp, err := s.settings.store.GetLatest(ctx, executionID)
	if err != nil {
		return SequenceResult{ExecutionID: executionID, StepIndex: -1}, errors.Wrapf(err, "unable to load checkpoint of %s", executionID)
	}

	return s.ResumeCheckpoint(ctx, cp)
}

// ResumeCheckpoint continues the execution cp belongs to. cp must be the latest checkpoint of its
// execution, as returned by GetLatest or GetResumable.
func (s *Sequence) ResumeCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) (SequenceResult, error) {
	failed := SequenceResult{ExecutionID: cp.ExecutionID, StepIndex: -1}
	if s.settings.store == nil {
		return failed, ErrNoCheckpointStore
	}
	if cp.PipelineName != s.name {
		return failed, errors.Wrapf(ErrNotResumable, "checkpoint belongs to %q", cp.PipelineName)
	}

	var start int
	switch cp.Status {
	case checkpoint.StatusFailed:
		start = cp.StepIndex
	case checkpoint.StatusPaused, checkpoint.StatusInProgress:
		start = cp.StepIndex + 1
	default:
		return failed, errors.Wrapf(ErrNotResumable, "execution %s is %s", cp.ExecutionID, cp.Status)
	}
	if restart, ok := cp.Metadata[MetadataRestartIndex]; ok && cp.Status == checkpoint.StatusFailed {
		idx, err := strconv.Atoi(restart)
		if err != nil || idx < 0 || idx > cp.StepIndex {
			return failed, errors.Wrapf(ErrNotResumable, "invalid restart index %q", restart)
		}
		if err = s.settings.store.DeleteAll(ctx, cp.ExecutionID); err != nil {
			return failed, errors.Wrapf(err, "unable to reset checkpoints of %s", cp.ExecutionID)
		}
		start = idx
	}

	_, cdc, err := codec.ParseStateType(cp.StateType)
	if err != nil {
		return failed, err
	}
	pctx, err := Restore(cdc, cp.State)
	if err != nil {
		return failed, err
	}

	run := model.RunInfo{Pipeline: s.name, ExecutionID: cp.ExecutionID, StartIndex: start, Resumed: true}

	return s.run(ctx, run, pctx)
}

// ResumeNext claims the newest resumable execution of the sequence and resumes it. ok is false when
// nothing is left to resume. Several workers can call ResumeNext concurrently: each execution is
// resumed by one of them only.
func (s *Sequence) ResumeNext(ctx context.Context) (res SequenceResult, ok bool, err error) {
	if s.settings.store == nil {
		return SequenceResult{StepIndex: -1}, false, ErrNoCheckpointStore
	}
	cps, err := s.settings.store.GetResumable(ctx, s.name)
	if err != nil {
		return SequenceResult{StepIndex: -1}, false, errors.Wrap(err, "unable to list resumable checkpoints")
	}
	for _, cp := range cps {
		if _, err = s.settings.store.Claim(ctx, cp.ID, checkpoint.StatusInProgress); err != nil {
			if errors.Is(err, checkpoint.ErrNotClaimable) || errors.Is(err, checkpoint.ErrNotFound) {
				continue
			}

			return SequenceResult{ExecutionID: cp.ExecutionID, StepIndex: -1}, false, errors.Wrapf(err, "unable to claim checkpoint %s", cp.ID)
		}
		// cp holds the status before the claim, which decides where to start
		res, err = s.ResumeCheckpoint(ctx, cp)

		return res, true, err
	}

	return SequenceResult{StepIndex: -1}, false, nil
}

// execution is the state of one run of a sequence.
type execution struct {
	seq     *Sequence
	sc      scope
	pctx    *Context
	res     SequenceResult
	initial []byte
	// last is the state saved by the latest checkpoint, the state a failed step starts from.
	last []byte
}

func (s *Sequence) run(ctx context.Context, run model.RunInfo, pctx *Context) (SequenceResult, error) {
	ex := &execution{
		seq:  s,
		sc:   scope{observer: s.settings.observer, run: run},
		pctx: pctx,
		res:  SequenceResult{ExecutionID: run.ExecutionID, Context: pctx, StepIndex: run.StartIndex - 1},
	}
	start := time.Now()
	ex.sc.observer.OnRunStart(run)
	pctx.clearPause()

	finish := func(status model.Status, err error) (SequenceResult, error) {
		ex.res.Status = status
		ex.sc.observer.OnRunEnd(run, status, time.Since(start))

		return ex.res, err
	}

	if s.settings.store != nil {
		state, err := pctx.Snapshot(s.settings.codec)
		if err != nil {
			return finish(model.StatusFailed, err)
		}
		ex.initial, ex.last = state, state
	}

	var (
		executed []unit
		failed   bool
	)
	for idx := run.StartIndex; idx < len(s.steps); idx++ {
		if err := ctx.Err(); err != nil {
			return finish(model.StatusCancelled, &CancelledError{Cause: err})
		}

		u := s.steps[idx]
		skipped := u.skipped(pctx)
		out := u.run(ctx, ex.sc, idx, pctx)
		ex.res.StepIndex = idx
		ex.res.Messages = append(ex.res.Messages, out.Messages...)

		if !out.Success {
			failed = true
			compensated := false
			if s.settings.ForceRollbackOnFailure {
				// a composite step may have partially succeeded
				if u.kind != model.OperationKind {
					executed = append(executed, u)
				}
				ex.res.Compensation.merge(compensate(ex.sc, executed, pctx))
				executed = nil
				compensated = true
			}
			if err := ex.saveFailure(ctx, idx, u, out, compensated); err != nil {
				return finish(model.StatusFailed, err)
			}
			if s.settings.AllowPropagateError && (hasErrors(ex.res.Messages) || pctx.HasErrors()) {
				errs := errorsOf(ex.res.Messages)
				errs = append(errs, errorsOf(pctx.Messages())...)

				return finish(model.StatusFailed, newAggregateError(errs...))
			}
			if s.settings.BreakOnFail {
				return finish(model.StatusFailed, nil)
			}

			continue
		}

		if !skipped {
			executed = append(executed, u)
		}
		if reason, ok := pctx.PauseRequested(); ok {
			pctx.clearPause()
			ex.res.PauseReason = reason
			if err := ex.save(ctx, idx, u, checkpoint.StatusPaused, "", nil, map[string]string{MetadataPauseReason: reason}); err != nil {
				return finish(model.StatusFailed, err)
			}

			return finish(model.StatusPaused, nil)
		}
		if err := ex.save(ctx, idx, u, checkpoint.StatusInProgress, "", nil, nil); err != nil {
			return finish(model.StatusFailed, err)
		}
	}

	if failed {
		return finish(model.StatusFailed, nil)
	}
	if err := ex.complete(ctx); err != nil {
		return finish(model.StatusFailed, err)
	}

	return finish(model.StatusSucceeded, nil)
}

func (ex *execution) saveFailure(ctx context.Context, idx int, u unit, out Outcome, compensated bool) error {
	errMsg := "step " + u.op.Name() + " failed"
	if err := out.Err(); err != nil {
		errMsg = err.Error()
	}
	if !compensated {
		return ex.save(ctx, idx, u, checkpoint.StatusFailed, errMsg, ex.last, nil)
	}
	// the steps of this run are undone: start again where this run started
	extra := map[string]string{MetadataRestartIndex: strconv.Itoa(ex.sc.run.StartIndex)}

	return ex.save(ctx, idx, u, checkpoint.StatusFailed, errMsg, ex.initial, extra)
}

// complete marks the execution as completed, then removes its checkpoints unless they are kept.
func (ex *execution) complete(ctx context.Context) error {
	store := ex.seq.settings.store
	if store == nil {
		return nil
	}
	idx := len(ex.seq.steps) - 1
	if idx < 0 {
		idx = 0
	}
	var u unit
	if len(ex.seq.steps) > 0 {
		u = ex.seq.steps[idx]
	}
	if err := ex.save(ctx, idx, u, checkpoint.StatusCompleted, "", nil, nil); err != nil {
		return err
	}
	if ex.seq.settings.keep {
		return nil
	}

	return errors.Wrapf(store.DeleteAll(ctx, ex.res.ExecutionID), "unable to delete checkpoints of %s", ex.res.ExecutionID)
}

// save writes the checkpoint of step idx. A nil state is replaced by a snapshot of the context.
func (ex *execution) save(ctx context.Context, idx int, u unit, status checkpoint.Status, errMsg string, state []byte, extra map[string]string) error {
	s := ex.seq.settings
	if s.store == nil {
		return nil
	}
	if state == nil {
		var err error
		if state, err = ex.pctx.Snapshot(s.codec); err != nil {
			return err
		}
	}

	cp := &checkpoint.Checkpoint{
		ID:            checkpoint.NewID(ex.res.ExecutionID, idx),
		ExecutionID:   ex.res.ExecutionID,
		PipelineName:  ex.seq.name,
		StepIndex:     idx,
		State:         state,
		StateType:     codec.StateType(ContextShape, s.codec),
		Status:        status,
		Error:         errMsg,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: s.correlation,
		Metadata:      copyMetadata(s.metadata, extra),
	}
	if u.op != nil {
		cp.StepName = u.op.Name()
		cp.StepID = strconv.Itoa(idx) + ":" + u.op.Name()
	}
	if err := s.store.Save(ctx, cp); err != nil {
		return errors.Wrapf(err, "unable to save checkpoint of step %d", idx)
	}
	if status == checkpoint.StatusInProgress {
		ex.last = state
	}
	ex.sc.observer.OnCheckpoint(ex.sc.run, idx, string(status))

	return nil
}

func copyMetadata(metadata, extra map[string]string) map[string]string {
	if len(metadata) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata)+len(extra))
	for k, v := range metadata {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}

	return out
}
