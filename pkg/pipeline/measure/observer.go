package measure

import (
	"time"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// Name returns the metric name of a step: its name prefixed by the composite owning it.
func Name(step model.StepInfo) string {
	if step.Parent == "" {
		return step.Name
	}

	return step.Parent + "/" + step.Name
}

type pipelineMeasure struct {
	model.NopObserver
	Measure
}

// Observer records the events of a run into m.
// Step durations are recorded for executed steps, the run total duration on the metric named after the pipeline.
func Observer(m Measure) model.Observer {
	return &pipelineMeasure{Measure: m}
}

func (pm *pipelineMeasure) OnRunStart(run model.RunInfo) {
	pm.AddMetric(run.Pipeline)
}

func (pm *pipelineMeasure) OnStepStart(step model.StepInfo) {
	pm.AddMetric(Name(step))
}

func (pm *pipelineMeasure) OnStepEnd(step model.StepInfo, res model.StepResult) {
	mt := pm.AddMetric(Name(step))
	switch res.Status {
	case model.StatusSkipped:
		mt.AddSkip()
	case model.StatusFailed, model.StatusCancelled:
		mt.AddDuration(res.Duration)
		mt.AddFailure()
	default:
		mt.AddDuration(res.Duration)
	}
}

func (pm *pipelineMeasure) OnBranchMatch(branch model.StepInfo, key string) {
	pm.AddMetric(Name(branch)).AddMatch(key)
}

func (pm *pipelineMeasure) OnRollback(step model.StepInfo, err error) {
	pm.AddMetric(Name(step)).AddRollback(err != nil)
}

func (pm *pipelineMeasure) OnRunEnd(run model.RunInfo, _ model.Status, elapsed time.Duration) {
	pm.AddMetric(run.Pipeline).SetTotalDuration(elapsed)
}
