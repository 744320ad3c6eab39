package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStage scripts one outcome per attempt; the last outcome repeats.
type fakeStage struct {
	name      string
	timeout   time.Duration
	attempts  int
	retryable func(error) bool
	outcomes  []error
	calls     int
	out       any
}

func (f *fakeStage) Name() string           { return f.name }
func (f *fakeStage) Timeout() time.Duration { return f.timeout }
func (f *fakeStage) MaxAttempts() int       { return f.attempts }

func (f *fakeStage) Retryable(err error) bool {
	if f.retryable == nil {
		return false
	}
	return f.retryable(err)
}

func (f *fakeStage) Invoke(ctx context.Context, _ any) (any, error) {
	idx := f.calls
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	f.calls++
	if err := f.outcomes[idx]; err != nil {
		return nil, err
	}
	return f.out, nil
}

// blockingStage never returns until its context is done.
type blockingStage struct {
	name     string
	timeout  time.Duration
	attempts int
	calls    int
}

func (b *blockingStage) Name() string             { return b.name }
func (b *blockingStage) Timeout() time.Duration   { return b.timeout }
func (b *blockingStage) MaxAttempts() int         { return b.attempts }
func (b *blockingStage) Retryable(err error) bool { return true }

func (b *blockingStage) Invoke(ctx context.Context, _ any) (any, error) {
	b.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

// zeroBackoff keeps retry tests fast.
type zeroBackoff struct{}

func (zeroBackoff) Delay(int) time.Duration { return 0 }

func newTestInvoker() *Invoker {
	return New(zeroBackoff{}, nil)
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	var invErr *Error
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, code, invErr.Code)
	return invErr
}

func TestInvoke_SuccessFirstAttempt(t *testing.T) {
	stage := &fakeStage{name: "stage", timeout: time.Second, attempts: 3, outcomes: []error{nil}, out: "ok"}

	out, err := newTestInvoker().Invoke(context.Background(), stage, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 1, stage.calls)
}

func TestInvoke_RetryableFailureThenSuccess(t *testing.T) {
	stage := &fakeStage{
		name: "stage", timeout: time.Second, attempts: 3,
		retryable: func(error) bool { return true },
		outcomes:  []error{errors.New("transient"), nil},
		out:       "recovered",
	}

	out, err := newTestInvoker().Invoke(context.Background(), stage, nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", out)
	require.Equal(t, 2, stage.calls)
}

func TestInvoke_NonRetryableFailsImmediately(t *testing.T) {
	cause := errors.New("bad request")
	stage := &fakeStage{name: "stage", timeout: time.Second, attempts: 3, outcomes: []error{cause}}

	_, err := newTestInvoker().Invoke(context.Background(), stage, nil)
	invErr := requireCode(t, err, ErrorStageFailed)
	require.Equal(t, "stage", invErr.Stage)
	require.Equal(t, 1, invErr.Attempts)
	require.ErrorIs(t, err, cause)
	require.Equal(t, 1, stage.calls)
}

func TestInvoke_RetriesExhausted(t *testing.T) {
	stage := &fakeStage{
		name: "stage", timeout: time.Second, attempts: 2,
		retryable: func(error) bool { return true },
		outcomes:  []error{errors.New("still down")},
	}

	_, err := newTestInvoker().Invoke(context.Background(), stage, nil)
	invErr := requireCode(t, err, ErrorStageExhausted)
	require.Equal(t, 2, invErr.Attempts)
	require.Equal(t, 2, stage.calls)
}

func TestInvoke_TimeoutClassifiedAsStageTimeout(t *testing.T) {
	stage := &blockingStage{name: "slow", timeout: 10 * time.Millisecond, attempts: 1}

	_, err := newTestInvoker().Invoke(context.Background(), stage, nil)
	requireCode(t, err, ErrorStageTimeout)
	require.Equal(t, 1, stage.calls)
}

func TestInvoke_TimeoutsAreRetriedUpToBudget(t *testing.T) {
	stage := &blockingStage{name: "slow", timeout: 10 * time.Millisecond, attempts: 2}

	_, err := newTestInvoker().Invoke(context.Background(), stage, nil)
	requireCode(t, err, ErrorStageTimeout)
	require.Equal(t, 2, stage.calls)
}

func TestInvoke_ParentCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stage := &fakeStage{
		name: "stage", timeout: time.Second, attempts: 5,
		retryable: func(error) bool { cancel(); return true },
		outcomes:  []error{errors.New("transient")},
	}

	_, err := New(ExponentialWithJitter{Initial: time.Hour, Max: time.Hour}, nil).Invoke(ctx, stage, nil)
	requireCode(t, err, ErrorStageFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, stage.calls)
}

func TestInvoke_ParentDeadlineInterruptsInFlightCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	stage := &blockingStage{name: "slow", timeout: time.Minute, attempts: 3}

	start := time.Now()
	_, err := newTestInvoker().Invoke(ctx, stage, nil)
	requireCode(t, err, ErrorStageFailed)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, 1, stage.calls)
}

func TestInvoke_ZeroAttemptsTreatedAsOne(t *testing.T) {
	stage := &fakeStage{name: "stage", timeout: time.Second, attempts: 0, outcomes: []error{nil}, out: "ok"}

	out, err := newTestInvoker().Invoke(context.Background(), stage, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 1, stage.calls)
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	b := ExponentialWithJitter{Initial: 100 * time.Millisecond, Max: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Delay(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
}
