package workflow

import (
	"errors"
	"time"

	"line-agent/internal/invoker"
)

const defaultDeadline = 5 * time.Minute

// Definition is the static description of the workflow: the five stages, the
// branch over the primary result, and the overall execution budget. It is
// immutable once built; the engine consumes it per execution.
type Definition struct {
	Primary    invoker.Stage
	Notice     invoker.Stage
	Augmented  invoker.Stage
	FinalSend  invoker.Stage
	DirectSend invoker.Stage

	// Deadline is the wall-clock budget for one execution, from Start to a
	// terminal state. Zero selects the default of five minutes.
	Deadline time.Duration
}

// Validate checks that every stage slot is populated.
func (d Definition) Validate() error {
	if d.Primary == nil {
		return errors.New("workflow: definition missing primary stage")
	}
	if d.Notice == nil {
		return errors.New("workflow: definition missing notice stage")
	}
	if d.Augmented == nil {
		return errors.New("workflow: definition missing augmented stage")
	}
	if d.FinalSend == nil {
		return errors.New("workflow: definition missing final-send stage")
	}
	if d.DirectSend == nil {
		return errors.New("workflow: definition missing direct-send stage")
	}
	return nil
}

func (d Definition) deadline() time.Duration {
	if d.Deadline > 0 {
		return d.Deadline
	}
	return defaultDeadline
}
