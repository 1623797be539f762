package observe

import (
	"time"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

type multi []model.Observer

// Multi reports every event to each of observers, in order. Nil observers are ignored.
func Multi(observers ...model.Observer) model.Observer {
	m := make(multi, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			m = append(m, obs)
		}
	}

	return m
}

func (m multi) OnRunStart(run model.RunInfo) {
	for _, obs := range m {
		obs.OnRunStart(run)
	}
}

func (m multi) OnStepStart(step model.StepInfo) {
	for _, obs := range m {
		obs.OnStepStart(step)
	}
}

func (m multi) OnStepEnd(step model.StepInfo, res model.StepResult) {
	for _, obs := range m {
		obs.OnStepEnd(step, res)
	}
}

func (m multi) OnBranchMatch(branch model.StepInfo, key string) {
	for _, obs := range m {
		obs.OnBranchMatch(branch, key)
	}
}

func (m multi) OnParallelChildFailure(group, child model.StepInfo, err error) {
	for _, obs := range m {
		obs.OnParallelChildFailure(group, child, err)
	}
}

func (m multi) OnRollback(step model.StepInfo, err error) {
	for _, obs := range m {
		obs.OnRollback(step, err)
	}
}

func (m multi) OnCheckpoint(run model.RunInfo, stepIndex int, status string) {
	for _, obs := range m {
		obs.OnCheckpoint(run, stepIndex, status)
	}
}

func (m multi) OnRunEnd(run model.RunInfo, status model.Status, elapsed time.Duration) {
	for _, obs := range m {
		obs.OnRunEnd(run, status, elapsed)
	}
}
