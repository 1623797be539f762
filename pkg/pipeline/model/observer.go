package model

import "time"

// Observer defines the hooks invoked while a pipeline runs.
// Implementations must be safe for concurrent use: parallel group children report concurrently.
type Observer interface {
	// OnRunStart runs before the first step of a run.
	OnRunStart(run RunInfo)
	// OnStepStart runs before a step is executed.
	OnStepStart(step StepInfo)
	// OnStepEnd runs after a step is executed or skipped.
	OnStepEnd(step StepInfo, res StepResult)
	// OnBranchMatch runs when a branch selected a case. key is empty when nothing matched.
	OnBranchMatch(branch StepInfo, key string)
	// OnParallelChildFailure runs everytime a child of a parallel group fails.
	OnParallelChildFailure(group, child StepInfo, err error)
	// OnRollback runs after the rollback of a step, err is the rollback failure if any.
	OnRollback(step StepInfo, err error)
	// OnCheckpoint runs after a checkpoint has been persisted.
	OnCheckpoint(run RunInfo, stepIndex int, status string)
	// OnRunEnd runs after the run is finished.
	OnRunEnd(run RunInfo, status Status, elapsed time.Duration)
}

// NopObserver ignores every event. Embed it to implement a subset of the hooks.
type NopObserver struct{}

func (NopObserver) OnRunStart(RunInfo) {}
func (NopObserver) OnStepStart(StepInfo) {}
func (NopObserver) OnStepEnd(StepInfo, StepResult) {}
func (NopObserver) OnBranchMatch(StepInfo, string) {}
func (NopObserver) OnParallelChildFailure(StepInfo, StepInfo, error) {}
func (NopObserver) OnRollback(StepInfo, error) {}
func (NopObserver) OnCheckpoint(RunInfo, int, string) {}
func (NopObserver) OnRunEnd(RunInfo, Status, time.Duration) {}

var _ Observer = NopObserver{}
