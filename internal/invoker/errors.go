package invoker

import "fmt"

// ErrorCode classifies a stage invocation failure.
type ErrorCode string

const (
	// ErrorStageTimeout means the stage did not answer within its timeout.
	ErrorStageTimeout ErrorCode = "STAGE_TIMEOUT"
	// ErrorStageExhausted means every allowed retry attempt failed.
	ErrorStageExhausted ErrorCode = "STAGE_EXHAUSTED"
	// ErrorStageFailed means the stage returned a non-retryable error.
	ErrorStageFailed ErrorCode = "STAGE_FAILED"
)

// Error is a classified stage invocation failure. Stage carries the stage
// name and Err the last underlying cause.
type Error struct {
	Code     ErrorCode
	Stage    string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("invoker: %s (%s, %d attempts)", e.Code, e.Stage, e.Attempts)
	}
	return fmt.Sprintf("invoker: %s (%s, %d attempts): %v", e.Code, e.Stage, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, stage string, attempts int, err error) *Error {
	return &Error{Code: code, Stage: stage, Attempts: attempts, Err: err}
}
