package drawer

import (
	"time"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

type pipelineDrawer struct {
	model.NopObserver
	Drawer
}

// Observer colours the steps of d with the status they end with, and sets the run total time on the
// end vertex. Steps missing from d are ignored.
func Observer(d Drawer) model.Observer {
	return &pipelineDrawer{Drawer: d}
}

func (pd *pipelineDrawer) OnStepEnd(step model.StepInfo, res model.StepResult) {
	_ = pd.SetStatus(StepID(step), res.Status)
}

func (pd *pipelineDrawer) OnBranchMatch(branch model.StepInfo, key string) {
	if key == "" {
		return
	}
	_ = pd.SetStatus(CaseID(StepID(branch), key), model.StatusSucceeded)
}

func (pd *pipelineDrawer) OnRunEnd(_ model.RunInfo, status model.Status, elapsed time.Duration) {
	_ = pd.SetTotalTime(EndStep, elapsed)
	_ = pd.SetStatus(EndStep, status)
}
