package workflow

import "fmt"

// ErrorCode classifies an execution-level failure.
type ErrorCode string

const (
	// ErrorExecutionTimedOut means the overall deadline elapsed before a
	// terminal state was reached.
	ErrorExecutionTimedOut ErrorCode = "EXECUTION_TIMED_OUT"
	// ErrorStorageUnavailable means the conversation store rejected the
	// terminal history append. The reply may already have been delivered;
	// Reason distinguishes bookkeeping failures from delivery failures.
	ErrorStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	// ErrorStageFailed means a fatal stage failed; Err carries the
	// classified invoker error.
	ErrorStageFailed ErrorCode = "STAGE_FAILED"
)

// Error is an execution-level failure.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("workflow: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("workflow: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
