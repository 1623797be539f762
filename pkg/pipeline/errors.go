package pipeline

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	ErrOperationMustBeSet = errors.New("operation must be set")
	ErrCancelled          = errors.New("pipeline cancelled")
	ErrPanic              = errors.New("panic")
	ErrInputType          = errors.New("unexpected input type")
	ErrCodecMismatch      = errors.New("value encoded with another codec")
	ErrNoCheckpointStore  = errors.New("no checkpoint store configured")
	ErrNotResumable       = errors.New("execution is not resumable")
)

// CancelledError is returned when a run is cancelled. It matches ErrCancelled and unwraps to the
// cancellation cause.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return ErrCancelled.Error() + ": " + e.Cause.Error()
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// AggregateError groups every error produced by a run or by a parallel group.
type AggregateError struct {
	Errors []error
}

func newAggregateError(errs ...error) *AggregateError {
	return &AggregateError{Errors: errs}
}

func (e *AggregateError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}

	return strings.Join(msgs, "; ")
}

// Unwrap exposes the grouped errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Combined returns the grouped errors as a single multierr error.
func (e *AggregateError) Combined() error {
	return multierr.Combine(e.Errors...)
}

// errorsOf returns the errors carried by error severity messages.
func errorsOf(msgs []Message) []error {
	var errs []error
	for _, msg := range msgs {
		if msg.Severity != SeverityError {
			continue
		}
		if msg.Err != nil {
			errs = append(errs, msg.Err)
			continue
		}
		errs = append(errs, errors.New(msg.Text))
	}

	return errs
}
