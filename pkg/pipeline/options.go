package pipeline

import (
	"github.com/askiada/go-orchestrator/pkg/checkpoint"
	"github.com/askiada/go-orchestrator/pkg/checkpoint/codec"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// Options is the failure policy of a pipeline or a sequence.
type Options struct {
	// BreakOnFail stops the run on the first failed step.
	BreakOnFail bool `mapstructure:"break_on_fail" yaml:"break_on_fail"`
	// ForceRollbackOnFailure rolls back the succeeded steps, last first, when a step fails.
	ForceRollbackOnFailure bool `mapstructure:"force_rollback_on_failure" yaml:"force_rollback_on_failure"`
	// AllowPropagateError makes the run return an error once a step produced an error message.
	AllowPropagateError bool `mapstructure:"allow_propagate_error" yaml:"allow_propagate_error"`
}

// DefaultOptions breaks on the first failure and returns results rather than errors.
func DefaultOptions() Options {
	return Options{BreakOnFail: true}
}

type settings struct {
	Options
	observer    model.Observer
	store       checkpoint.Store
	codec       codec.Codec
	keep        bool
	correlation string
	metadata    map[string]string
}

func newSettings() settings {
	return settings{
		Options:  DefaultOptions(),
		observer: model.NopObserver{},
		codec:    codec.JSON,
	}
}

// Option configures a Pipeline or a Sequence.
type Option func(s *settings)

func WithOptions(opts Options) Option {
	return func(s *settings) {
		s.Options = opts
	}
}

func BreakOnFail(enabled bool) Option {
	return func(s *settings) {
		s.BreakOnFail = enabled
	}
}

func ForceRollbackOnFailure(enabled bool) Option {
	return func(s *settings) {
		s.ForceRollbackOnFailure = enabled
	}
}

func AllowPropagateError(enabled bool) Option {
	return func(s *settings) {
		s.AllowPropagateError = enabled
	}
}

// WithObserver reports the run events to obs.
func WithObserver(obs model.Observer) Option {
	return func(s *settings) {
		if obs != nil {
			s.observer = obs
		}
	}
}

// WithCheckpoints persists the progress of a Sequence in store.
func WithCheckpoints(store checkpoint.Store) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithCodec sets the codec used to serialise the context in checkpoints.
func WithCodec(cdc codec.Codec) Option {
	return func(s *settings) {
		s.codec = cdc
	}
}

// KeepCompletedCheckpoints keeps the checkpoints of a completed execution instead of deleting them.
func KeepCompletedCheckpoints(keep bool) Option {
	return func(s *settings) {
		s.keep = keep
	}
}

func WithCorrelationID(id string) Option {
	return func(s *settings) {
		s.correlation = id
	}
}

// WithMetadata attaches metadata to every checkpoint.
func WithMetadata(metadata map[string]string) Option {
	return func(s *settings) {
		s.metadata = metadata
	}
}
