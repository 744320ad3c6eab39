// Package invoker provides the uniform contract for calling an external
// processing stage with a per-stage timeout and bounded retry policy.
package invoker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Stage is one independently invocable processing step. Implementations own
// their timeout, attempt budget, and retryable-error classification; the
// invoker owns enforcement.
type Stage interface {
	// Name identifies the stage in logs and error values.
	Name() string
	// Timeout bounds a single invocation attempt.
	Timeout() time.Duration
	// MaxAttempts is the total attempt budget including the first call.
	MaxAttempts() int
	// Retryable reports whether the given invocation error is worth
	// another attempt. Timeouts are always considered retryable.
	Retryable(err error) bool
	// Invoke performs the external call.
	Invoke(ctx context.Context, input any) (any, error)
}

// Invoker calls stages with timeout and retry enforcement. It is stateless
// and safe for concurrent use; idempotency of repeated calls is the caller's
// responsibility via idempotent inputs.
type Invoker struct {
	backoff BackoffStrategy
	log     *slog.Logger
}

// New creates an Invoker. A nil backoff selects DefaultBackoff and a nil
// logger selects slog.Default.
func New(backoff BackoffStrategy, log *slog.Logger) *Invoker {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Invoker{backoff: backoff, log: log}
}

// Invoke runs the stage within its declared timeout, retrying retryable
// failures with backoff up to the stage's attempt budget. The returned error
// is always a classified *Error. Cancellation of ctx interrupts both an
// in-flight attempt and any backoff sleep.
func (i *Invoker) Invoke(ctx context.Context, stage Stage, input any) (any, error) {
	maxAttempts := stage.MaxAttempts()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := i.attempt(ctx, stage, input)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// Parent cancelled or past its deadline: stop immediately.
			return nil, newError(ErrorStageFailed, stage.Name(), attempt, ctx.Err())
		}
		// With the parent context live, DeadlineExceeded can only come from
		// the per-attempt timeout.
		timedOut := errors.Is(err, context.DeadlineExceeded)
		if !timedOut && !stage.Retryable(err) {
			return nil, newError(ErrorStageFailed, stage.Name(), attempt, err)
		}
		if attempt == maxAttempts {
			if timedOut {
				return nil, newError(ErrorStageTimeout, stage.Name(), attempt, err)
			}
			return nil, newError(ErrorStageExhausted, stage.Name(), attempt, err)
		}

		delay := i.backoff.Delay(attempt)
		i.log.Warn("stage attempt failed, retrying",
			"stage", stage.Name(), "attempt", attempt, "delay", delay, "err", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, newError(ErrorStageFailed, stage.Name(), attempt, err)
		}
	}
	// Unreachable: the loop always returns. Kept for the compiler.
	return nil, newError(ErrorStageFailed, stage.Name(), maxAttempts, lastErr)
}

func (i *Invoker) attempt(ctx context.Context, stage Stage, input any) (any, error) {
	timeout := stage.Timeout()
	if timeout <= 0 {
		return stage.Invoke(ctx, input)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return stage.Invoke(attemptCtx, input)
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
