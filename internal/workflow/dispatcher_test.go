package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"line-agent/internal/domain"
	"line-agent/internal/invoker"
	"line-agent/internal/stages"
)

// slowGate lets tests hold stage invocations open to observe concurrency.
type slowGate struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	release chan struct{}
}

func newSlowGate() *slowGate {
	return &slowGate{release: make(chan struct{})}
}

func (g *slowGate) enter() {
	g.mu.Lock()
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()
	<-g.release
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func newDispatcherFixture(t *testing.T, gate *slowGate, opts ...DispatcherOption) (*Dispatcher, *fakeStore) {
	t.Helper()
	rec := &recorder{}
	mkSend := func(name string) *scriptedStage {
		return &scriptedStage{name: name, rec: rec,
			invoke: func(context.Context, any) (any, error) { return stages.SendAck{}, nil }}
	}
	primary := &scriptedStage{name: stages.NamePrimaryCompletion, rec: rec,
		invoke: func(context.Context, any) (any, error) {
			if gate != nil {
				gate.enter()
			}
			return domain.CompletionResult{ReplyText: "ok"}, nil
		}}
	augmented := &scriptedStage{name: stages.NameToolAugmentedCompletion, rec: rec,
		invoke: func(context.Context, any) (any, error) {
			return domain.AugmentedResult{ReplyText: "ok"}, nil
		}}
	store := &fakeStore{}
	engine, err := NewEngine(Definition{
		Primary:    primary,
		Notice:     mkSend(stages.NameInterimNotice),
		Augmented:  augmented,
		FinalSend:  mkSend(stages.NameFinalSend),
		DirectSend: mkSend(stages.NameDirectSend),
	}, invoker.New(nil, nil), store, nil)
	require.NoError(t, err)

	d, err := NewDispatcher(engine, nil, opts...)
	require.NoError(t, err)
	return d, store
}

func msg(execID, userID string) domain.InboundMessage {
	return domain.InboundMessage{ExecutionID: execID, UserID: userID, Text: "hello"}
}

func waitDone(t *testing.T, exec *Execution) {
	t.Helper()
	select {
	case <-exec.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("execution %s did not finish", exec.ID)
	}
}

func TestDispatch_RunsToCompletion(t *testing.T) {
	d, store := newDispatcherFixture(t, nil)

	exec, created, err := d.Dispatch(context.Background(), msg("E1", "U1"))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "E1", exec.ID)

	waitDone(t, exec)
	require.Equal(t, StatusSucceeded, exec.Status())
	require.Equal(t, 1, store.appendCount())
}

func TestDispatch_DuplicateReturnsExistingHandle(t *testing.T) {
	gate := newSlowGate()
	d, store := newDispatcherFixture(t, gate)

	first, created, err := d.Dispatch(context.Background(), msg("E1", "U1"))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := d.Dispatch(context.Background(), msg("E1", "U1"))
	require.NoError(t, err)
	require.False(t, created)
	require.Same(t, first, second)

	close(gate.release)
	waitDone(t, first)
	require.Equal(t, 1, store.appendCount(), "one delivery and one append despite re-delivery")
}

func TestDispatch_DuplicateAfterTerminalStillDedups(t *testing.T) {
	d, _ := newDispatcherFixture(t, nil)

	first, _, err := d.Dispatch(context.Background(), msg("E1", "U1"))
	require.NoError(t, err)
	waitDone(t, first)

	second, created, err := d.Dispatch(context.Background(), msg("E1", "U1"))
	require.NoError(t, err)
	require.False(t, created)
	require.Same(t, first, second)
}

func TestDispatch_ConcurrentDuplicatesYieldOneExecution(t *testing.T) {
	gate := newSlowGate()
	d, store := newDispatcherFixture(t, gate)

	const n = 8
	var wg sync.WaitGroup
	execs := make([]*Execution, n)
	createdCount := 0
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec, created, err := d.Dispatch(context.Background(), msg("E1", "U1"))
			require.NoError(t, err)
			mu.Lock()
			execs[i] = exec
			if created {
				createdCount++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, createdCount)
	for i := 1; i < n; i++ {
		require.Same(t, execs[0], execs[i])
	}

	close(gate.release)
	waitDone(t, execs[0])
	require.Equal(t, 1, store.appendCount())
}

func TestDispatch_BlankExecutionIDGetsGenerated(t *testing.T) {
	d, _ := newDispatcherFixture(t, nil)

	exec, created, err := d.Dispatch(context.Background(), msg("", "U1"))
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, exec.ID)
	require.Equal(t, exec.ID, exec.Input.ExecutionID)
	waitDone(t, exec)
}

func TestDispatch_RequiresUserID(t *testing.T) {
	d, _ := newDispatcherFixture(t, nil)
	_, _, err := d.Dispatch(context.Background(), msg("E1", " "))
	require.Error(t, err)
}

func TestDispatch_ConcurrencyIsBounded(t *testing.T) {
	gate := newSlowGate()
	d, _ := newDispatcherFixture(t, gate, WithMaxConcurrent(2))

	var execs []*Execution
	for i := 0; i < 6; i++ {
		exec, _, err := d.Dispatch(context.Background(), domain.InboundMessage{
			ExecutionID: string(rune('A' + i)),
			UserID:      "U1",
			Text:        "hello",
		})
		require.NoError(t, err)
		execs = append(execs, exec)
	}

	// Give the goroutines a moment to hit the semaphore.
	require.Eventually(t, func() bool {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		return gate.active == 2
	}, 2*time.Second, 10*time.Millisecond)

	close(gate.release)
	for _, exec := range execs {
		waitDone(t, exec)
	}
	gate.mu.Lock()
	defer gate.mu.Unlock()
	require.LessOrEqual(t, gate.maxSeen, 2)
}

func TestDispatch_CallerCancellationDoesNotKillExecution(t *testing.T) {
	d, store := newDispatcherFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	exec, _, err := d.Dispatch(ctx, msg("E1", "U1"))
	require.NoError(t, err)
	cancel()

	waitDone(t, exec)
	require.Equal(t, StatusSucceeded, exec.Status())
	require.Equal(t, 1, store.appendCount())
}
