package observe

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

type zerologObserver struct {
	log zerolog.Logger
}

// Zerolog logs the events of a run with log, at the same levels as Zap.
func Zerolog(log zerolog.Logger) model.Observer {
	return &zerologObserver{log: log}
}

func withRun(e *zerolog.Event, run model.RunInfo) *zerolog.Event {
	return e.Str("pipeline", run.Pipeline).Str("execution_id", run.ExecutionID)
}

func withStep(e *zerolog.Event, step model.StepInfo) *zerolog.Event {
	e = e.Str("pipeline", step.Pipeline).
		Str("execution_id", step.ExecutionID).
		Str("step", step.Name).
		Str("kind", string(step.Kind)).
		Int("index", step.Index)
	if step.Parent != "" {
		e = e.Str("parent", step.Parent)
	}

	return e
}

func (o *zerologObserver) OnRunStart(run model.RunInfo) {
	withRun(o.log.Info(), run).
		Int("start_index", run.StartIndex).
		Bool("resumed", run.Resumed).
		Msg("run started")
}

func (o *zerologObserver) OnStepStart(step model.StepInfo) {
	withStep(o.log.Debug(), step).Msg("step started")
}

func (o *zerologObserver) OnStepEnd(step model.StepInfo, res model.StepResult) {
	e := o.log.Debug()
	if res.Status == model.StatusFailed || res.Status == model.StatusCancelled {
		e = o.log.Warn()
	}
	withStep(e, step).
		Str("status", string(res.Status)).
		Dur("duration", res.Duration).
		Err(res.Err).
		Msg("step finished")
}

func (o *zerologObserver) OnBranchMatch(branch model.StepInfo, key string) {
	if key == "" {
		withStep(o.log.Info(), branch).Msg("no case matched")
		return
	}
	withStep(o.log.Debug(), branch).Str("case", key).Msg("case matched")
}

func (o *zerologObserver) OnParallelChildFailure(group, child model.StepInfo, err error) {
	withStep(o.log.Warn(), child).Str("group", group.Name).Err(err).Msg("parallel operation failed")
}

func (o *zerologObserver) OnRollback(step model.StepInfo, err error) {
	if err != nil {
		withStep(o.log.Error(), step).Err(err).Msg("rollback failed")
		return
	}
	withStep(o.log.Info(), step).Msg("step rolled back")
}

func (o *zerologObserver) OnCheckpoint(run model.RunInfo, stepIndex int, status string) {
	withRun(o.log.Debug(), run).Int("index", stepIndex).Str("status", status).Msg("checkpoint saved")
}

func (o *zerologObserver) OnRunEnd(run model.RunInfo, status model.Status, elapsed time.Duration) {
	e := o.log.Info()
	if status == model.StatusFailed || status == model.StatusCancelled {
		e = o.log.Error()
	}
	withRun(e, run).Str("status", string(status)).Dur("elapsed", elapsed).Msg("run finished")
}
