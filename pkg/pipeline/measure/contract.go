package measure

import "time"

// Measure holds one metric per step, keyed by the step path.
type Measure interface {
	AddMetric(name string) Metric
	GetMetric(name string) Metric
	AllMetrics() map[string]Metric
}

type Metric interface {
	AddDuration(elapsed time.Duration)
	AddFailure()
	AddSkip()
	AddRollback(failed bool)
	AddMatch(caseKey string)
	AVGDuration() time.Duration
	Executions() int64
	Failures() int64
	Skips() int64
	Rollbacks() (total, failed int64)
	Matches() map[string]int64
	SetTotalDuration(endDuration time.Duration)
	GetTotalDuration() time.Duration
}
