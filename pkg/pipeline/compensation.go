package pipeline

import (
	"go.uber.org/multierr"
)

// RollbackAttempt is the result of the rollback of one step.
type RollbackAttempt struct {
	Step string
	Err  error
}

// Compensation records a rollback sweep. A sweep always completes: failures are recorded here
// instead of being returned.
type Compensation struct {
	Attempts []RollbackAttempt
}

func (c *Compensation) record(step string, err error) {
	c.Attempts = append(c.Attempts, RollbackAttempt{Step: step, Err: err})
}

func (c *Compensation) merge(other Compensation) {
	c.Attempts = append(c.Attempts, other.Attempts...)
}

// Steps returns the names of the rolled back steps, in rollback order.
func (c Compensation) Steps() []string {
	steps := make([]string, len(c.Attempts))
	for i, a := range c.Attempts {
		steps[i] = a.Step
	}

	return steps
}

// Failed reports whether at least one rollback failed.
func (c Compensation) Failed() bool {
	for _, a := range c.Attempts {
		if a.Err != nil {
			return true
		}
	}

	return false
}

// Err combines the rollback failures, nil when every rollback succeeded.
func (c Compensation) Err() error {
	var err error
	for _, a := range c.Attempts {
		if a.Err != nil {
			err = multierr.Append(err, a.Err)
		}
	}

	return err
}
