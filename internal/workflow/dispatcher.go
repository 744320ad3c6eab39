package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"line-agent/internal/domain"
)

const (
	defaultMaxConcurrent = 8
	defaultMaxTracked    = 1024
)

// Dispatcher accepts validated inbound messages, creates deduplicated
// workflow executions, and runs them asynchronously under a bounded
// concurrency limit. Dispatch returns as soon as the execution exists;
// completion is observable through the returned handle.
type Dispatcher struct {
	engine *Engine
	log    *slog.Logger
	sem    chan struct{}

	mu         sync.Mutex
	executions map[string]*Execution
	order      []string
	maxTracked int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxConcurrent bounds how many executions run engine stages at once.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithMaxTracked bounds how many executions the dedup registry retains.
func WithMaxTracked(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxTracked = n
		}
	}
}

// NewDispatcher creates a Dispatcher. log may be nil.
func NewDispatcher(engine *Engine, log *slog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if engine == nil {
		return nil, errors.New("workflow: engine must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		engine:     engine,
		log:        log,
		sem:        make(chan struct{}, defaultMaxConcurrent),
		executions: make(map[string]*Execution),
		maxTracked: defaultMaxTracked,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch registers an execution for the message and starts it
// asynchronously. A message whose execution id is already known, running or
// terminal, returns the existing handle with created=false and starts
// nothing: at-least-once webhook re-delivery must not double-run. A blank
// execution id gets a generated one (no dedup is possible for it).
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) (exec *Execution, created bool, err error) {
	if strings.TrimSpace(msg.UserID) == "" {
		return nil, false, errors.New("workflow: dispatch: userId is required")
	}
	id := strings.TrimSpace(msg.ExecutionID)
	if id == "" {
		id = uuid.NewString()
		msg.ExecutionID = id
	}

	d.mu.Lock()
	if existing, ok := d.executions[id]; ok {
		d.mu.Unlock()
		d.log.Info("duplicate dispatch, returning existing execution",
			"executionId", id, "status", existing.Status())
		return existing, false, nil
	}
	exec = newExecution(id, msg)
	d.executions[id] = exec
	d.order = append(d.order, id)
	d.evictLocked()
	d.mu.Unlock()

	// Detach from the caller's context: the webhook response must not
	// cancel the execution it acknowledged.
	runCtx := context.WithoutCancel(ctx)
	go d.run(runCtx, exec)

	return exec, true, nil
}

func (d *Dispatcher) run(ctx context.Context, exec *Execution) {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()
	d.engine.Run(ctx, exec)
}

// evictLocked drops the oldest terminal executions once the registry exceeds
// its cap. Running executions are never evicted; dedup for them is load-
// bearing, not advisory. Caller holds d.mu.
func (d *Dispatcher) evictLocked() {
	if len(d.executions) <= d.maxTracked {
		return
	}
	kept := d.order[:0]
	for _, id := range d.order {
		ex, ok := d.executions[id]
		if !ok {
			continue
		}
		if len(d.executions) > d.maxTracked && ex.Status().Terminal() {
			delete(d.executions, id)
			continue
		}
		kept = append(kept, id)
	}
	d.order = kept
}
