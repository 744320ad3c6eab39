package workflow

// State is one node of the execution state machine.
type State string

const (
	StateStart             State = "Start"
	StateRunningPrimary    State = "RunningPrimary"
	StateBranching         State = "Branching"
	StateRunningNotice     State = "RunningNotice"
	StateRunningAugmented  State = "RunningAugmented"
	StateRunningFinalSend  State = "RunningFinalSend"
	StateRunningDirectSend State = "RunningDirectSend"
	StateSucceeded         State = "Succeeded"
	StateFailed            State = "Failed"
	StateTimedOut          State = "TimedOut"
)

// Terminal reports whether the state ends the execution.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// Event is an observed outcome that drives a state transition.
type Event string

const (
	// EventStarted fires once when the execution begins.
	EventStarted Event = "started"
	// EventStageCompleted fires when the current state's stage succeeds.
	EventStageCompleted Event = "stage_completed"
	// EventStageFailed fires when the current state's stage fails.
	EventStageFailed Event = "stage_failed"
	// EventBranchTool routes to the tool-augmented path.
	EventBranchTool Event = "branch_tool"
	// EventBranchDirect routes to the direct path.
	EventBranchDirect Event = "branch_direct"
	// EventDeadline fires when the overall execution budget is exhausted.
	EventDeadline Event = "deadline"
)

// next is the static transition table. The graph is acyclic and finite; no
// state is revisited within one execution. A notice failure advances to the
// augmented stage because the interim message is best-effort. Any pairing not
// listed is a programming error and maps to Failed.
func next(s State, e Event) State {
	if e == EventDeadline {
		return StateTimedOut
	}
	switch s {
	case StateStart:
		if e == EventStarted {
			return StateRunningPrimary
		}
	case StateRunningPrimary:
		switch e {
		case EventStageCompleted:
			return StateBranching
		case EventStageFailed:
			return StateFailed
		}
	case StateBranching:
		switch e {
		case EventBranchTool:
			return StateRunningNotice
		case EventBranchDirect:
			return StateRunningDirectSend
		}
	case StateRunningNotice:
		switch e {
		case EventStageCompleted, EventStageFailed:
			return StateRunningAugmented
		}
	case StateRunningAugmented:
		switch e {
		case EventStageCompleted:
			return StateRunningFinalSend
		case EventStageFailed:
			return StateFailed
		}
	case StateRunningFinalSend:
		switch e {
		case EventStageCompleted:
			return StateSucceeded
		case EventStageFailed:
			return StateFailed
		}
	case StateRunningDirectSend:
		switch e {
		case EventStageCompleted:
			return StateSucceeded
		case EventStageFailed:
			return StateFailed
		}
	}
	return StateFailed
}
