package pipeline

import (
	"context"

	"github.com/pkg/errors"
)

// Stage is a step of a typed Pipeline. It receives the value produced by the previous stage.
type Stage interface {
	Name() string
	Run(ctx context.Context, input any) Outcome
	// Rollback compensates Run. It receives the input Run was given.
	Rollback(ctx context.Context, input any) error
}

// StageOption configures a stage created by NewStage.
type StageOption func(s *stage)

// WithStageRollback sets the compensation of the stage.
func WithStageRollback(fn func(ctx context.Context, input any) error) StageOption {
	return func(s *stage) {
		s.rollbackFn = fn
	}
}

type stage struct {
	name       string
	fn         func(ctx context.Context, input any) Outcome
	rollbackFn func(ctx context.Context, input any) error
}

func (s *stage) Name() string { return s.name }

func (s *stage) Run(ctx context.Context, input any) Outcome {
	return s.fn(ctx, input)
}

func (s *stage) Rollback(ctx context.Context, input any) error {
	if s.rollbackFn == nil {
		return nil
	}

	return s.rollbackFn(ctx, input)
}

// NewStage creates an untyped stage. A pure transform has no rollback.
func NewStage(name string, fn func(ctx context.Context, input any) (any, error), opts ...StageOption) Stage {
	s := &stage{
		name: name,
		fn: func(ctx context.Context, input any) Outcome {
			out, err := fn(ctx, input)
			if err != nil {
				return Fail(err)
			}

			return Succeed(out)
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Transform creates a stage converting an In into an Out.
func Transform[In, Out any](name string, fn func(ctx context.Context, input In) (Out, error), opts ...StageOption) Stage {
	return NewStage(name, func(ctx context.Context, input any) (any, error) {
		in, ok := input.(In)
		if !ok {
			return nil, errors.Wrapf(ErrInputType, "stage %s got %T", name, input)
		}

		return fn(ctx, in)
	}, opts...)
}

// Check creates a stage validating its input. The input is passed through unchanged.
func Check[In any](name string, fn func(input In) error) Stage {
	return Transform(name, func(_ context.Context, input In) (In, error) {
		if err := fn(input); err != nil {
			return input, err
		}

		return input, nil
	})
}

// OperationStage runs op against a *Context input and passes the context to the next stage.
func OperationStage(op Operation) Stage {
	return &operationStage{u: bind(op)}
}

type operationStage struct {
	u unit
}

func (s *operationStage) Name() string { return s.u.op.Name() }

func (s *operationStage) Run(ctx context.Context, input any) Outcome {
	pctx, ok := input.(*Context)
	if !ok {
		return Fail(errors.Wrapf(ErrInputType, "operation %s expects *pipeline.Context, got %T", s.u.op.Name(), input))
	}
	if s.u.skipped(pctx) {
		return Succeed(pctx)
	}
	out := s.u.execute(ctx, pctx)
	out.Value = pctx

	return out
}

// skips reports whether the operation is skipped for input because the context is locked.
func (s *operationStage) skips(input any) bool {
	pctx, ok := input.(*Context)
	return ok && s.u.skipped(pctx)
}

func (s *operationStage) Rollback(_ context.Context, input any) error {
	pctx, ok := input.(*Context)
	if !ok {
		return errors.Wrapf(ErrInputType, "operation %s expects *pipeline.Context, got %T", s.u.op.Name(), input)
	}

	return s.u.rollback(pctx)
}

func runStage(ctx context.Context, s Stage, input any) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Fail(errors.Wrapf(ErrPanic, "stage %s: %v", s.Name(), r))
		}
	}()

	return s.Run(ctx, input)
}

func rollbackStage(ctx context.Context, s Stage, input any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrPanic, "rollback %s: %v", s.Name(), r)
		}
	}()

	return s.Rollback(ctx, input)
}
