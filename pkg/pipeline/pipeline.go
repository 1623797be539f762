package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// Pipeline runs an ordered list of stages against one input and produces one O.
//
// Each stage receives the value produced by the previous successful stage. Stages never run
// concurrently with each other. A Pipeline must not be reconfigured while it runs.
type Pipeline[I, O any] struct {
	name     string
	settings settings
	stages   []Stage
}

// New creates a new pipeline.
func New[I, O any](name string, opts ...Option) *Pipeline[I, O] {
	p := &Pipeline[I, O]{
		name:     name,
		settings: newSettings(),
	}
	for _, opt := range opts {
		opt(&p.settings)
	}

	return p
}

func (p *Pipeline[I, O]) Name() string { return p.name }

// Add appends stages to the pipeline. A nil stage fails with ErrOperationMustBeSet.
func (p *Pipeline[I, O]) Add(stages ...Stage) *Pipeline[I, O] {
	for _, st := range stages {
		if st == nil {
			st = NewStage("nil", func(context.Context, any) (any, error) { return nil, ErrOperationMustBeSet })
		}
		p.stages = append(p.stages, st)
	}

	return p
}

// AddFunc appends a pure transform. Its rollback is a no-op.
func (p *Pipeline[I, O]) AddFunc(name string, fn func(ctx context.Context, input any) (any, error)) *Pipeline[I, O] {
	return p.Add(NewStage(name, fn))
}

// AddOperation appends a context operation. The pipeline input must be a *Context.
func (p *Pipeline[I, O]) AddOperation(ops ...Operation) *Pipeline[I, O] {
	for _, op := range ops {
		p.Add(OperationStage(op))
	}

	return p
}

// Layout describes the stages of the pipeline.
func (p *Pipeline[I, O]) Layout() []model.Node {
	sc := scope{observer: model.NopObserver{}, run: model.RunInfo{Pipeline: p.name}}
	nodes := make([]model.Node, len(p.stages))
	for i, st := range p.stages {
		if opStage, ok := st.(*operationStage); ok {
			nodes[i] = opStage.u.describe(sc, i)
			continue
		}
		nodes[i] = model.Node{Info: sc.stepInfo(model.TransformKind, st.Name(), i, true)}
	}

	return nodes
}

// Result is the outcome of a pipeline run.
type Result[O any] struct {
	ExecutionID  string
	Value        O
	Success      bool
	Cancelled    bool
	Messages     []Message
	Compensation Compensation
}

// Err combines the errors of the error severity messages.
func (r Result[O]) Err() error {
	errs := errorsOf(r.Messages)
	if len(errs) == 0 {
		return nil
	}

	return newAggregateError(errs...)
}

type executedStage struct {
	stage Stage
	input any
	index int
	kind  model.StepKind
}

// Execute runs the pipeline sequentially.
func (p *Pipeline[I, O]) Execute(input I) (Result[O], error) {
	return p.ExecuteContext(context.Background(), input)
}

// ExecuteContext runs the pipeline. ctx is checked before each stage and passed to every stage.
//
// A failed run is returned as a Result. An error is only returned when the run is cancelled, or when
// AllowPropagateError is set and a step produced an error message. In the latter case the error is
// an *AggregateError returned after the rollback.
func (p *Pipeline[I, O]) ExecuteContext(ctx context.Context, input I) (Result[O], error) {
	run := model.RunInfo{Pipeline: p.name, ExecutionID: uuid.NewString()}
	sc := scope{observer: p.settings.observer, run: run}
	start := time.Now()
	sc.observer.OnRunStart(run)

	var (
		current  any = input
		last     O
		haveLast bool
		executed []executedStage
		failed   bool
		res      = Result[O]{ExecutionID: run.ExecutionID}
	)

	finish := func(status model.Status) Result[O] {
		res.Value = p.finalValue(input, last, haveLast)
		res.Success = !failed && status == model.StatusSucceeded
		sc.observer.OnRunEnd(run, status, time.Since(start))

		return res
	}

	for idx, st := range p.stages {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			return finish(model.StatusCancelled), &CancelledError{Cause: err}
		}

		info := sc.stepInfo(model.TransformKind, st.Name(), idx, true)
		opStage, isOp := st.(*operationStage)
		if isOp {
			info.Kind = opStage.u.kind
			info.Required = opStage.u.op.IsRequired()
		}
		if isOp && opStage.skips(current) {
			sc.observer.OnStepStart(info)
			sc.observer.OnStepEnd(info, model.StepResult{Status: model.StatusSkipped})
			if v, ok := current.(O); ok {
				last, haveLast = v, true
			}
			continue
		}
		sc.observer.OnStepStart(info)
		stepStart := time.Now()
		out := runStage(withScope(ctx, sc.child(st.Name())), st, current)
		stepRes := model.StepResult{Status: model.StatusSucceeded, Duration: time.Since(stepStart)}
		if !out.Success {
			stepRes.Status = model.StatusFailed
			stepRes.Err = out.Err()
		}
		sc.observer.OnStepEnd(info, stepRes)
		res.Messages = append(res.Messages, withStep(st.Name(), out.Messages)...)

		if out.Success {
			executed = append(executed, executedStage{stage: st, input: current, index: idx, kind: info.Kind})
			current = out.Value
			if v, ok := out.Value.(O); ok {
				last, haveLast = v, true
			}
			continue
		}

		failed = true
		if p.settings.ForceRollbackOnFailure {
			// a composite step may have partially succeeded
			if isOp && opStage.u.kind != model.OperationKind {
				executed = append(executed, executedStage{stage: st, input: current, index: idx, kind: info.Kind})
			}
			res.Compensation.merge(p.rollback(ctx, sc, executed))
			executed = nil
		}
		if p.settings.AllowPropagateError && hasErrors(res.Messages) {
			return finish(model.StatusFailed), newAggregateError(errorsOf(res.Messages)...)
		}
		if p.settings.BreakOnFail {
			return finish(model.StatusFailed), nil
		}
		// the next stage receives the value prior to the failure
	}

	if failed {
		return finish(model.StatusFailed), nil
	}

	return finish(model.StatusSucceeded), nil
}

// finalValue is the last O produced by a stage, else the input when it is an O, else the zero value.
func (p *Pipeline[I, O]) finalValue(input I, last O, haveLast bool) O {
	if haveLast {
		return last
	}
	if v, ok := any(input).(O); ok {
		return v
	}
	var zero O

	return zero
}

// rollback compensates the executed stages, last first, with the input each of them received.
func (p *Pipeline[I, O]) rollback(ctx context.Context, sc scope, executed []executedStage) Compensation {
	var comp Compensation
	for i := len(executed) - 1; i >= 0; i-- {
		ex := executed[i]
		err := rollbackStage(ctx, ex.stage, ex.input)
		sc.observer.OnRollback(sc.stepInfo(ex.kind, ex.stage.Name(), ex.index, true), err)
		comp.record(ex.stage.Name(), err)
	}

	return comp
}

// Run is a pipeline running in its own goroutine.
type Run[O any] struct {
	done chan struct{}
	res  Result[O]
	err  error
}

// Start runs the pipeline in a new goroutine. Stages still run one after another.
func (p *Pipeline[I, O]) Start(ctx context.Context, input I) *Run[O] {
	r := &Run[O]{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.res, r.err = p.ExecuteContext(ctx, input)
	}()

	return r
}

// Done is closed once the run is finished.
func (r *Run[O]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is finished and returns its result.
func (r *Run[O]) Wait() (Result[O], error) {
	<-r.done
	return r.res, r.err
}
