package workflow

import (
	"sync"

	"line-agent/internal/domain"
)

// Status is the lifecycle state of one execution.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusTimedOut  Status = "TimedOut"
)

// Terminal reports whether the status ends the execution.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// Execution is the handle for one inbound message's run through the
// workflow. stageResults is mutated only by the engine goroutine that owns
// the execution; the accessors take the lock so other goroutines can observe
// progress safely.
type Execution struct {
	ID    string
	Input domain.InboundMessage

	mu           sync.Mutex
	status       Status
	state        State
	stageResults map[string]any
	err          error
	done         chan struct{}
}

func newExecution(id string, input domain.InboundMessage) *Execution {
	return &Execution{
		ID:           id,
		Input:        input,
		status:       StatusRunning,
		state:        StateStart,
		stageResults: make(map[string]any),
		done:         make(chan struct{}),
	}
}

// Status returns the current lifecycle status.
func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// State returns the current state-machine state.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the terminal error, if any.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done is closed when the execution reaches a terminal status.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// StageResult returns the recorded output of the named stage.
func (e *Execution) StageResult(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.stageResults[name]
	return v, ok
}

func (e *Execution) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Execution) recordResult(stage string, out any) {
	e.mu.Lock()
	e.stageResults[stage] = out
	e.mu.Unlock()
}

func (e *Execution) finish(status Status, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return
	}
	e.status = status
	e.err = err
	close(e.done)
}
