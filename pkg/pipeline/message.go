package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is a result message accumulated during a run.
type Message struct {
	Severity Severity `json:"severity" yaml:"severity"`
	Text     string   `json:"text" yaml:"text"`
	// Step is the name of the step which produced the message.
	Step string `json:"step,omitempty" yaml:"step,omitempty"`
	// Err is the error behind an error severity message. It is not persisted in checkpoints.
	Err error `json:"-" yaml:"-"`
}

func (m Message) String() string {
	if m.Step == "" {
		return fmt.Sprintf("[%s] %s", m.Severity, m.Text)
	}

	return fmt.Sprintf("[%s] %s: %s", m.Severity, m.Step, m.Text)
}

// ErrorMessage creates an error severity message from err.
func ErrorMessage(err error) Message {
	return Message{Severity: SeverityError, Text: err.Error(), Err: err}
}

func InfoMessage(text string) Message {
	return Message{Severity: SeverityInfo, Text: text}
}

func WarningMessage(text string) Message {
	return Message{Severity: SeverityWarning, Text: text}
}

func hasErrors(msgs []Message) bool {
	for _, msg := range msgs {
		if msg.Severity == SeverityError {
			return true
		}
	}

	return false
}

func withStep(step string, msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		if msg.Step == "" {
			msg.Step = step
		}
		out[i] = msg
	}

	return out
}

// Outcome is what an operation or a stage returns.
type Outcome struct {
	Success  bool
	Value    any
	Messages []Message
}

// Succeed creates a successful outcome carrying v.
func Succeed(v any, msgs ...Message) Outcome {
	return Outcome{Success: true, Value: v, Messages: msgs}
}

// Fail creates a failed outcome with an error message for err.
func Fail(err error, msgs ...Message) Outcome {
	return Outcome{Messages: append(msgs, ErrorMessage(err))}
}

// Err returns the first error carried by the outcome messages.
func (o Outcome) Err() error {
	for _, msg := range o.Messages {
		if msg.Severity != SeverityError {
			continue
		}
		if msg.Err != nil {
			return msg.Err
		}

		return errors.New(msg.Text)
	}

	return nil
}
