// Package pipeline composes operations into ordered, branching and parallel executions.
//
// Operations share a Context: an ordered key value map with a lock flag and the accumulated result
// messages. An operation implements Execute and Rollback, and may implement ExecuteContext to observe
// cancellation. The capability of an operation is resolved once, when it is registered.
//
// Two orchestrators drive operations. Pipeline runs typed stages, where every stage receives the value
// produced by the previous one, and returns a typed result. Sequence runs operations against a Context
// and, given a checkpoint.Store, saves its progress after every step so that an execution can be
// paused, resumed or picked up by another worker after a failure.
//
// Branch and ParallelGroup are composite operations. A Branch runs the operations of the first case
// whose predicate holds. A ParallelGroup runs its operations concurrently and waits for all of them,
// whatever their outcome.
//
// When a step fails, the failure policy decides what happens next: stop or continue, roll back the
// succeeded steps last first, and return an error rather than a failed result. Rollback failures are
// recorded in a Compensation and never stop the sweep.
//
// Events are reported to a model.Observer. The observe and measure packages provide observers for
// structured logging and metrics, the drawer package renders a layout.
package pipeline
