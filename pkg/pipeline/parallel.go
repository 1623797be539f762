package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// ParallelGroup runs its operations concurrently and returns once all of them are finished.
//
// A failing operation never stops its siblings. With RequireAllSuccess the group fails when at least
// one operation failed, after every operation is finished. Otherwise the group succeeds and the
// captured errors are stored in the context under ParallelErrorsKey. The operations to roll back
// are kept in the Context of the run, so a group may be shared by runs using distinct contexts.
type ParallelGroup struct {
	name              string
	required          bool
	units             []unit
	maxConcurrency    int
	requireAllSuccess bool

}

// groupRun is what a group records in the context of a run to roll it back.
type groupRun struct {
	sc       scope
	launched []unit
}

// ParallelOption configures a ParallelGroup.
type ParallelOption func(g *ParallelGroup)

// ParallelRequired makes the group run even when the context is locked.
func ParallelRequired() ParallelOption {
	return func(g *ParallelGroup) {
		g.required = true
	}
}

// NewParallelGroup creates an empty group.
func NewParallelGroup(name string, opts ...ParallelOption) *ParallelGroup {
	g := &ParallelGroup{name: name}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// ParallelErrorsKey is the context key under which a group stores the errors of its failed operations.
func ParallelErrorsKey(groupName string) string {
	return "parallel." + groupName + ".errors"
}

func (g *ParallelGroup) Add(ops ...Operation) *ParallelGroup {
	g.units = append(g.units, bindAll(ops)...)
	return g
}

// SetMaxConcurrency bounds the number of operations running at the same time. Zero means unbounded.
func (g *ParallelGroup) SetMaxConcurrency(n int) *ParallelGroup {
	g.maxConcurrency = n
	return g
}

func (g *ParallelGroup) SetRequireAllSuccess(required bool) *ParallelGroup {
	g.requireAllSuccess = required
	return g
}

func (g *ParallelGroup) Name() string     { return g.name }
func (g *ParallelGroup) IsRequired() bool { return g.required }

func (g *ParallelGroup) stepKind() model.StepKind { return model.ParallelKind }

type childFailure struct {
	index int
	err   error
}

func (g *ParallelGroup) Execute(pctx *Context) Outcome {
	return g.ExecuteContext(context.Background(), pctx)
}

// ExecuteContext runs the operations. Every operation receives ctx; operations not started yet when
// ctx is cancelled are not started at all.
func (g *ParallelGroup) ExecuteContext(ctx context.Context, pctx *Context) Outcome {
	sc := scopeFrom(ctx)
	groupInfo := sc.stepInfo(model.ParallelKind, g.name, 0, g.required)
	groupInfo.Parent = sc.outer

	pctx.takeRunState(g)
	var (
		grp      errgroup.Group
		mu       sync.Mutex
		failures []childFailure
		outcomes = make([]Outcome, len(g.units))
		launched = make([]bool, len(g.units))
	)
	if g.maxConcurrency > 0 {
		grp.SetLimit(g.maxConcurrency)
	}

	for i, u := range g.units {
		if u.skipped(pctx) {
			outcomes[i] = u.run(ctx, sc, i, pctx)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		launched[i] = true
		idx, child := i, u
		grp.Go(func() error {
			out := child.run(ctx, sc, idx, pctx)
			if !out.Success {
				err := out.Err()
				if err == nil {
					err = errors.Errorf("operation %s failed", child.op.Name())
				}
				mu.Lock()
				failures = append(failures, childFailure{index: idx, err: err})
				mu.Unlock()
				sc.observer.OnParallelChildFailure(groupInfo, sc.stepInfo(child.kind, child.op.Name(), idx, child.op.IsRequired()), err)
			}
			mu.Lock()
			outcomes[idx] = out
			mu.Unlock()

			return nil
		})
	}
	// join: failures never cancel the siblings still running
	_ = grp.Wait()

	run := groupRun{sc: sc}
	for i, u := range g.units {
		if launched[i] {
			run.launched = append(run.launched, u)
		}
	}
	if len(run.launched) > 0 {
		pctx.setRunState(g, run)
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].index < failures[j].index })
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f.err
	}

	// the error of a failed operation is reported through errs
	var msgs []Message
	for _, out := range outcomes {
		for _, msg := range out.Messages {
			if !out.Success && msg.Severity == SeverityError {
				continue
			}
			msgs = append(msgs, msg)
		}
	}

	if err := ctx.Err(); err != nil {
		return Fail(&CancelledError{Cause: err}, msgs...)
	}
	if len(errs) == 0 {
		return Succeed(nil, msgs...)
	}
	if g.requireAllSuccess {
		return Fail(newAggregateError(errs...), msgs...)
	}

	pctx.Set(ParallelErrorsKey(g.name), errs)
	for _, err := range errs {
		msgs = append(msgs, Message{Severity: SeverityWarning, Text: err.Error(), Step: g.name, Err: err})
	}

	return Succeed(nil, msgs...)
}

// Rollback rolls back every operation launched against pctx, in reverse registration order.
// The rollbacks are reported to the observer of the run which launched them.
func (g *ParallelGroup) Rollback(pctx *Context) error {
	run, ok := pctx.takeRunState(g).(groupRun)
	if !ok {
		return nil
	}

	return compensate(run.sc, run.launched, pctx).Err()
}

// Describe returns the layout of the group.
func (g *ParallelGroup) Describe() model.Node {
	node := model.Node{Info: model.StepInfo{Kind: model.ParallelKind, Name: g.name, Required: g.required}}
	childScope := scope{parent: g.name}
	for i, u := range g.units {
		node.Children = append(node.Children, u.describe(childScope, i))
	}

	return node
}

var (
	_ ContextOperation = (*ParallelGroup)(nil)
	_ model.Describer  = (*ParallelGroup)(nil)
)
