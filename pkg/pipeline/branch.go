package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// Predicate decides whether a branch case applies to the context.
type Predicate func(pctx *Context) bool

type branchCase struct {
	key   string
	pred  Predicate
	units []unit
}

// Branch runs the operations of the first case whose predicate holds.
//
// Cases are evaluated in registration order. When no case matches the default branch runs, if any.
// A predicate which panics does not match. The operations to roll back are kept in the Context of
// the run, so a branch may be shared by runs using distinct contexts.
type Branch struct {
	name        string
	required    bool
	cases       []branchCase
	fallback    []unit
	hasFallback bool

	mu       sync.Mutex
	selected string
}

// branchRun is what a branch records in the context of a run to roll it back.
type branchRun struct {
	sc       scope
	executed []unit
}

// BranchOption configures a Branch.
type BranchOption func(b *Branch)

// BranchRequired makes the branch run even when the context is locked.
func BranchRequired() BranchOption {
	return func(b *Branch) {
		b.required = true
	}
}

// NewBranch creates a branch without cases.
func NewBranch(name string, opts ...BranchOption) *Branch {
	b := &Branch{name: name}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// DefaultBranchKey is the key reported when the default branch is selected.
const DefaultBranchKey = "default"

// BranchKey is the context key under which a branch records the selected case key.
func BranchKey(branchName string) string {
	return "branch." + branchName + ".selected"
}

// AddCase registers a case. Its operations run in order when pred is the first predicate to hold.
func (b *Branch) AddCase(key string, pred Predicate, ops ...Operation) *Branch {
	b.cases = append(b.cases, branchCase{key: key, pred: pred, units: bindAll(ops)})
	return b
}

// SetDefaultBranch sets the operations run when no case matches.
func (b *Branch) SetDefaultBranch(ops ...Operation) *Branch {
	b.fallback = bindAll(ops)
	b.hasFallback = true

	return b
}

func (b *Branch) Name() string     { return b.name }
func (b *Branch) IsRequired() bool { return b.required }

func (b *Branch) stepKind() model.StepKind { return model.BranchKind }

// SelectedKey returns the key of the case selected by the last execution, empty when nothing matched.
func (b *Branch) SelectedKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.selected
}

// selectCase returns the key and the operations of the first matching case.
// ok is false when neither a case nor the default branch applies.
func (b *Branch) selectCase(pctx *Context) (key string, units []unit, ok bool) {
	for _, c := range b.cases {
		matched, err := evaluate(c.pred, pctx)
		if err != nil {
			pctx.AddMessage(Message{
				Severity: SeverityWarning,
				Text:     fmt.Sprintf("case %s: %v", c.key, err),
				Step:     b.name,
			})
			continue
		}
		if matched {
			return c.key, c.units, true
		}
	}
	if b.hasFallback {
		return DefaultBranchKey, b.fallback, true
	}

	return "", nil, false
}

func evaluate(pred Predicate, pctx *Context) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, errors.Errorf("predicate panicked: %v", r)
		}
	}()

	return pred(pctx), nil
}

func (b *Branch) Execute(pctx *Context) Outcome {
	return b.ExecuteContext(context.Background(), pctx)
}

// ExecuteContext runs the selected case. Cancellation is checked between operations.
func (b *Branch) ExecuteContext(ctx context.Context, pctx *Context) Outcome {
	sc := scopeFrom(ctx)
	// the scope of a composite operation has the operation itself as parent
	info := sc.stepInfo(model.BranchKind, b.name, 0, b.required)
	info.Parent = sc.outer

	pctx.takeRunState(b)
	key, units, ok := b.selectCase(pctx)
	b.mu.Lock()
	b.selected = key
	b.mu.Unlock()
	sc.observer.OnBranchMatch(info, key)
	if !ok {
		return Succeed(nil, InfoMessage("no case matched"))
	}
	pctx.Set(BranchKey(b.name), key)

	var (
		msgs     []Message
		executed []unit
	)
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return Fail(&CancelledError{Cause: err}, msgs...)
		}
		if u.skipped(pctx) {
			u.run(ctx, sc, i, pctx)
			continue
		}
		executed = append(executed, u)
		pctx.setRunState(b, branchRun{sc: sc, executed: executed})
		out := u.run(ctx, sc, i, pctx)
		msgs = append(msgs, out.Messages...)
		if !out.Success {
			return Outcome{Messages: msgs}
		}
	}

	return Succeed(key, msgs...)
}

// Rollback rolls back the operations of the selected case executed against pctx, last first.
// The rollbacks are reported to the observer of the run which executed them.
func (b *Branch) Rollback(pctx *Context) error {
	run, ok := pctx.takeRunState(b).(branchRun)
	if !ok {
		return nil
	}

	return compensate(run.sc, run.executed, pctx).Err()
}

// Describe returns the layout of the branch: one child node per case.
func (b *Branch) Describe() model.Node {
	node := model.Node{Info: model.StepInfo{Kind: model.BranchKind, Name: b.name, Required: b.required}}
	describeCase := func(idx int, key string, units []unit) model.Node {
		caseScope := scope{parent: key}
		caseNode := model.Node{Info: model.StepInfo{Kind: model.CaseKind, Name: key, Parent: b.name, Index: idx}}
		for i, u := range units {
			caseNode.Children = append(caseNode.Children, u.describe(caseScope, i))
		}

		return caseNode
	}
	for i, c := range b.cases {
		node.Children = append(node.Children, describeCase(i, c.key, c.units))
	}
	if b.hasFallback {
		node.Children = append(node.Children, describeCase(len(b.cases), DefaultBranchKey, b.fallback))
	}

	return node
}

var (
	_ ContextOperation = (*Branch)(nil)
	_ model.Describer  = (*Branch)(nil)
)
