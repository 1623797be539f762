package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// Operation is a unit of work executed against a Context.
//
// Rollback compensates a previous Execute. It is only invoked on operations which have been executed,
// and its error is recorded but never stops a rollback sweep.
type Operation interface {
	Name() string
	// IsRequired reports whether the operation runs even when the context is locked.
	IsRequired() bool
	Execute(pctx *Context) Outcome
	Rollback(pctx *Context) error
}

// ContextOperation is an Operation supporting cancellation.
type ContextOperation interface {
	Operation
	ExecuteContext(ctx context.Context, pctx *Context) Outcome
}

// Capability is the execution path an operation declared when it was registered.
type Capability int

const (
	CapabilitySync Capability = iota
	CapabilityContext
)

// unit is a registered operation. Its capability is resolved once in bind.
type unit struct {
	op         Operation
	ctxOp      ContextOperation
	capability Capability
	kind       model.StepKind
}

// bind resolves the capability of op. A nil op is bound to an operation failing with
// ErrOperationMustBeSet.
func bind(op Operation) unit {
	if op == nil {
		op = NewOperation("nil", func(*Context) error { return ErrOperationMustBeSet })
	}
	u := unit{op: op, capability: CapabilitySync, kind: model.OperationKind}
	if ctxOp, ok := op.(ContextOperation); ok {
		u.ctxOp = ctxOp
		u.capability = CapabilityContext
	}
	if k, ok := op.(kinded); ok {
		u.kind = k.stepKind()
	}

	return u
}

// kinded is implemented by the composite operations of this package.
type kinded interface {
	stepKind() model.StepKind
}

func bindAll(ops []Operation) []unit {
	units := make([]unit, len(ops))
	for i, op := range ops {
		units[i] = bind(op)
	}

	return units
}

func (u unit) execute(ctx context.Context, pctx *Context) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Fail(errors.Wrapf(ErrPanic, "operation %s: %v", u.op.Name(), r))
		}
	}()

	switch u.capability {
	case CapabilityContext:
		return u.ctxOp.ExecuteContext(ctx, pctx)
	default:
		return u.op.Execute(pctx)
	}
}

func (u unit) rollback(pctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrPanic, "rollback %s: %v", u.op.Name(), r)
		}
	}()

	return u.op.Rollback(pctx)
}

func (u unit) describe(sc scope, idx int) model.Node {
	if d, ok := u.op.(model.Describer); ok {
		node := d.Describe()
		node.Info = sc.stepInfo(node.Info.Kind, u.op.Name(), idx, u.op.IsRequired())

		return node
	}

	return model.Node{Info: sc.stepInfo(u.kind, u.op.Name(), idx, u.op.IsRequired())}
}

// skipped reports whether the unit must be skipped because the context is locked.
func (u unit) skipped(pctx *Context) bool {
	return pctx.IsLocked() && !u.op.IsRequired()
}

// run executes the unit and reports it to the observer of the scope.
func (u unit) run(ctx context.Context, sc scope, idx int, pctx *Context) Outcome {
	info := sc.stepInfo(u.kind, u.op.Name(), idx, u.op.IsRequired())
	if u.skipped(pctx) {
		sc.observer.OnStepStart(info)
		sc.observer.OnStepEnd(info, model.StepResult{Status: model.StatusSkipped})

		return Succeed(nil)
	}

	sc.observer.OnStepStart(info)
	start := time.Now()
	out := u.execute(withScope(ctx, sc.child(u.op.Name())), pctx)
	res := model.StepResult{Status: model.StatusSucceeded, Duration: time.Since(start)}
	if !out.Success {
		res.Status = model.StatusFailed
		res.Err = out.Err()
	}
	sc.observer.OnStepEnd(info, res)
	out.Messages = withStep(u.op.Name(), out.Messages)

	return out
}

// compensate rolls back units in reverse order. Every failure is recorded, none stops the sweep.
func compensate(sc scope, units []unit, pctx *Context) Compensation {
	var comp Compensation
	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		err := u.rollback(pctx)
		sc.observer.OnRollback(sc.stepInfo(u.kind, u.op.Name(), i, u.op.IsRequired()), err)
		comp.record(u.op.Name(), err)
	}

	return comp
}

// OperationOption configures a leaf operation.
type OperationOption func(op *operation)

// Required marks the operation as required: it runs even when the context is locked.
func Required() OperationOption {
	return func(op *operation) {
		op.required = true
	}
}

// WithRollback sets the compensation of the operation.
func WithRollback(fn func(pctx *Context) error) OperationOption {
	return func(op *operation) {
		op.rollbackFn = fn
	}
}

type operation struct {
	name       string
	required   bool
	fn         func(pctx *Context) error
	rollbackFn func(pctx *Context) error
}

// NewOperation creates a leaf operation running fn.
func NewOperation(name string, fn func(pctx *Context) error, opts ...OperationOption) Operation {
	op := &operation{name: name, fn: fn}
	for _, opt := range opts {
		opt(op)
	}

	return op
}

func (op *operation) Name() string     { return op.name }
func (op *operation) IsRequired() bool { return op.required }

func (op *operation) Execute(pctx *Context) Outcome {
	if err := op.fn(pctx); err != nil {
		return Fail(err)
	}

	return Succeed(nil)
}

func (op *operation) Rollback(pctx *Context) error {
	if op.rollbackFn == nil {
		return nil
	}

	return op.rollbackFn(pctx)
}

type contextOperation struct {
	*operation
	ctxFn func(ctx context.Context, pctx *Context) error
}

// NewContextOperation creates a leaf operation running fn with the context of the run.
func NewContextOperation(name string, fn func(ctx context.Context, pctx *Context) error, opts ...OperationOption) ContextOperation {
	op := &contextOperation{
		operation: &operation{name: name},
		ctxFn:     fn,
	}
	op.operation.fn = func(pctx *Context) error {
		return fn(context.Background(), pctx)
	}
	for _, opt := range opts {
		opt(op.operation)
	}

	return op
}

func (op *contextOperation) ExecuteContext(ctx context.Context, pctx *Context) Outcome {
	if err := op.ctxFn(ctx, pctx); err != nil {
		return Fail(err)
	}

	return Succeed(nil)
}

var (
	_ Operation        = (*operation)(nil)
	_ ContextOperation = (*contextOperation)(nil)
)

type scopeKey struct{}

// scope is what composite operations inherit from the run executing them.
type scope struct {
	observer model.Observer
	run      model.RunInfo
	parent   string
	// outer is the parent of the composite operation owning the scope.
	outer string
}

func (sc scope) stepInfo(kind model.StepKind, name string, idx int, required bool) model.StepInfo {
	return model.StepInfo{
		Pipeline:    sc.run.Pipeline,
		ExecutionID: sc.run.ExecutionID,
		Kind:        kind,
		Name:        name,
		Parent:      sc.parent,
		Index:       idx,
		Required:    required,
	}
}

func (sc scope) child(parent string) scope {
	sc.outer, sc.parent = sc.parent, parent
	return sc
}

func withScope(ctx context.Context, sc scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, sc)
}

func scopeFrom(ctx context.Context) scope {
	if sc, ok := ctx.Value(scopeKey{}).(scope); ok {
		return sc
	}

	return scope{observer: model.NopObserver{}}
}

// ContextWithObserver returns a copy of ctx reporting the events of composite operations to obs.
// Use it when executing a Branch or a ParallelGroup outside of a Pipeline or a Sequence.
func ContextWithObserver(ctx context.Context, obs model.Observer) context.Context {
	sc := scopeFrom(ctx)
	sc.observer = obs

	return withScope(ctx, sc)
}
