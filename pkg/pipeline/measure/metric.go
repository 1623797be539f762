package measure

import (
	"sync"
	"time"
)

type DefaultMetric struct {
	matches         map[string]int64
	mu              *sync.Mutex
	EndDuration     time.Duration
	stepElapsed     time.Duration
	total           int64
	failures        int64
	skips           int64
	rollbacks       int64
	failedRollbacks int64
}

func (mt *DefaultMetric) AddDuration(elapsed time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.total++
	mt.stepElapsed += elapsed
}

func (mt *DefaultMetric) AddFailure() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.failures++
}

func (mt *DefaultMetric) AddSkip() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.skips++
}

func (mt *DefaultMetric) AddRollback(failed bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.rollbacks++
	if failed {
		mt.failedRollbacks++
	}
}

func (mt *DefaultMetric) AddMatch(caseKey string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.matches[caseKey]++
}

func (mt *DefaultMetric) SetTotalDuration(endDuration time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.EndDuration = endDuration
}

func (mt *DefaultMetric) GetTotalDuration() time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.EndDuration
}

func (mt *DefaultMetric) AVGDuration() time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.total == 0 {
		return time.Duration(0)
	}

	return round(time.Duration(float64(mt.stepElapsed) / float64(mt.total)))
}

func (mt *DefaultMetric) Executions() int64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.total
}

func (mt *DefaultMetric) Failures() int64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.failures
}

func (mt *DefaultMetric) Skips() int64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.skips
}

func (mt *DefaultMetric) Rollbacks() (total, failed int64) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.rollbacks, mt.failedRollbacks
}

// Matches returns how many times every case was selected. The empty key counts runs without a match.
func (mt *DefaultMetric) Matches() map[string]int64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	matches := make(map[string]int64, len(mt.matches))
	for k, v := range mt.matches {
		matches[k] = v
	}

	return matches
}

func round(d time.Duration) time.Duration {
	switch {
	case d > time.Hour:
		d = d.Round(time.Hour)
	case d > time.Minute:
		d = d.Round(time.Minute)
	case d > time.Second:
		d = d.Round(time.Second)
	case d > time.Millisecond:
		d = d.Round(time.Millisecond)
	case d > time.Microsecond:
		d = d.Round(time.Microsecond)
	}

	return d
}
