package pipeline_test

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/pipeline"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

var errBoom = errors.New("boom")

type event struct {
	hook   string
	step   model.StepInfo
	status model.Status
	key    string
	err    error
}

// recorder is an observer keeping every event it receives.
type recorder struct {
	model.NopObserver

	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnStepStart(step model.StepInfo) {
	r.add(event{hook: "start", step: step})
}

func (r *recorder) OnStepEnd(step model.StepInfo, res model.StepResult) {
	r.add(event{hook: "end", step: step, status: res.Status, err: res.Err})
}

func (r *recorder) OnBranchMatch(branch model.StepInfo, key string) {
	r.add(event{hook: "match", step: branch, key: key})
}

func (r *recorder) OnParallelChildFailure(_, child model.StepInfo, err error) {
	r.add(event{hook: "child_failure", step: child, err: err})
}

func (r *recorder) OnRollback(step model.StepInfo, err error) {
	r.add(event{hook: "rollback", step: step, err: err})
}

func (r *recorder) OnRunEnd(_ model.RunInfo, status model.Status, _ time.Duration) {
	r.add(event{hook: "run_end", status: status})
}

func (r *recorder) get(hook string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.hook == hook {
			out = append(out, e)
		}
	}

	return out
}

// ended returns the status of every finished step, keyed by parent/name.
func (r *recorder) ended() map[string]model.Status {
	out := make(map[string]model.Status)
	for _, e := range r.get("end") {
		out[e.step.Parent+"/"+e.step.Name] = e.status
	}

	return out
}

// trace records names concurrently, in call order.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (tr *trace) add(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, name)
}

func (tr *trace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]string(nil), tr.calls...)
}

// tracedOperation records its executions in exec and its rollbacks in rb.
func tracedOperation(name string, exec, rb *trace, opts ...pipeline.OperationOption) pipeline.Operation {
	opts = append(opts, pipeline.WithRollback(func(*pipeline.Context) error {
		rb.add(name)
		return nil
	}))

	return pipeline.NewOperation(name, func(pctx *pipeline.Context) error {
		exec.add(name)
		pctx.Set(name, true)

		return nil
	}, opts...)
}

func failingOperation(name string, exec, rb *trace) pipeline.Operation {
	return pipeline.NewOperation(name, func(*pipeline.Context) error {
		exec.add(name)
		return errBoom
	}, pipeline.WithRollback(func(*pipeline.Context) error {
		rb.add(name)
		return nil
	}))
}

// failingStore fails every Save once armed.
type failingStore struct {
	checkpoint.Store

	mu    sync.Mutex
	armed bool
}

var errStore = errors.New("store unavailable")

func (s *failingStore) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

func (s *failingStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	armed := s.armed
	s.mu.Unlock()
	if armed {
		return errStore
	}

	return s.Store.Save(ctx, cp)
}
