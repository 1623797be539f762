package observe

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

type zapObserver struct {
	log *zap.Logger
}

// Zap logs the events of a run with log. Step level events are logged at debug level, failures at
// warn level and rollback failures at error level.
func Zap(log *zap.Logger) model.Observer {
	return &zapObserver{log: log}
}

func runFields(run model.RunInfo) []zap.Field {
	return []zap.Field{
		zap.String("pipeline", run.Pipeline),
		zap.String("execution_id", run.ExecutionID),
	}
}

func stepFields(step model.StepInfo) []zap.Field {
	fields := []zap.Field{
		zap.String("pipeline", step.Pipeline),
		zap.String("execution_id", step.ExecutionID),
		zap.String("step", step.Name),
		zap.String("kind", string(step.Kind)),
		zap.Int("index", step.Index),
	}
	if step.Parent != "" {
		fields = append(fields, zap.String("parent", step.Parent))
	}

	return fields
}

func (o *zapObserver) OnRunStart(run model.RunInfo) {
	o.log.Info("run started", append(runFields(run),
		zap.Int("start_index", run.StartIndex),
		zap.Bool("resumed", run.Resumed),
	)...)
}

func (o *zapObserver) OnStepStart(step model.StepInfo) {
	o.log.Debug("step started", stepFields(step)...)
}

func (o *zapObserver) OnStepEnd(step model.StepInfo, res model.StepResult) {
	level := zapcore.DebugLevel
	if res.Status == model.StatusFailed || res.Status == model.StatusCancelled {
		level = zapcore.WarnLevel
	}
	fields := append(stepFields(step),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
	)
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}
	o.log.Log(level, "step finished", fields...)
}

func (o *zapObserver) OnBranchMatch(branch model.StepInfo, key string) {
	if key == "" {
		o.log.Info("no case matched", stepFields(branch)...)
		return
	}
	o.log.Debug("case matched", append(stepFields(branch), zap.String("case", key))...)
}

func (o *zapObserver) OnParallelChildFailure(group, child model.StepInfo, err error) {
	o.log.Warn("parallel operation failed", append(stepFields(child),
		zap.String("group", group.Name),
		zap.Error(err),
	)...)
}

func (o *zapObserver) OnRollback(step model.StepInfo, err error) {
	if err != nil {
		o.log.Error("rollback failed", append(stepFields(step), zap.Error(err))...)
		return
	}
	o.log.Info("step rolled back", stepFields(step)...)
}

func (o *zapObserver) OnCheckpoint(run model.RunInfo, stepIndex int, status string) {
	o.log.Debug("checkpoint saved", append(runFields(run),
		zap.Int("index", stepIndex),
		zap.String("status", status),
	)...)
}

func (o *zapObserver) OnRunEnd(run model.RunInfo, status model.Status, elapsed time.Duration) {
	level := zapcore.InfoLevel
	if status == model.StatusFailed || status == model.StatusCancelled {
		level = zapcore.ErrorLevel
	}
	o.log.Log(level, "run finished", append(runFields(run),
		zap.String("status", string(status)),
		zap.Duration("elapsed", elapsed),
	)...)
}
