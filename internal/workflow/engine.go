// Package workflow contains the durable branching state machine that turns
// one inbound chat message into exactly one delivered reply: the static
// definition, the engine that executes it, and the dispatcher that creates
// deduplicated executions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"line-agent/internal/domain"
	"line-agent/internal/invoker"
	"line-agent/internal/stages"
)

const (
	fallbackSendTimeout = 15 * time.Second
	appendTimeout       = 10 * time.Second
)

// ConversationStore is the history persistence consumed by the engine.
type ConversationStore interface {
	Read(ctx context.Context, userID string) ([]domain.Turn, error)
	Append(ctx context.Context, userID, userText, assistantText string) error
}

// StageInvoker runs one stage with timeout and retry enforcement.
type StageInvoker interface {
	Invoke(ctx context.Context, stage invoker.Stage, input any) (any, error)
}

// Engine executes the workflow definition for one execution at a time. It is
// stateless across executions and safe for concurrent Run calls.
type Engine struct {
	def   Definition
	inv   StageInvoker
	store ConversationStore
	log   *slog.Logger
}

// NewEngine creates an Engine. log may be nil.
func NewEngine(def Definition, inv StageInvoker, store ConversationStore, log *slog.Logger) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, errors.New("workflow: invoker must not be nil")
	}
	if store == nil {
		return nil, errors.New("workflow: conversation store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{def: def, inv: inv, store: store, log: log}, nil
}

// Run drives the execution to a terminal status. Transitions are strictly
// sequential; the overall deadline interrupts an in-flight stage call, not
// just future ones, because every invocation shares the run context.
func (e *Engine) Run(ctx context.Context, exec *Execution) {
	runCtx, cancel := context.WithTimeout(ctx, e.def.deadline())
	defer cancel()

	log := e.log.With("executionId", exec.ID, "userId", exec.Input.UserID)

	var (
		primary   domain.CompletionResult
		replyText string
		delivered bool
		stageErr  error
	)

	state := StateStart
	for !state.Terminal() {
		if runCtx.Err() != nil {
			state = next(state, EventDeadline)
			exec.setState(state)
			break
		}

		var event Event
		switch state {
		case StateStart:
			event = EventStarted

		case StateRunningPrimary:
			history := e.readHistory(runCtx, log, exec.Input.UserID)
			out, err := e.inv.Invoke(runCtx, e.def.Primary, stages.PrimaryInput{
				UserID:  exec.Input.UserID,
				Text:    exec.Input.Text,
				History: history,
			})
			if err != nil {
				stageErr = err
				event = EventStageFailed
				break
			}
			result, ok := out.(domain.CompletionResult)
			if !ok {
				stageErr = fmt.Errorf("workflow: primary stage returned %T", out)
				event = EventStageFailed
				break
			}
			primary = result
			exec.recordResult(e.def.Primary.Name(), result)
			event = EventStageCompleted

		case StateBranching:
			if primary.HasToolCall {
				event = EventBranchTool
			} else {
				event = EventBranchDirect
			}
			log.Info("branch decided", "hasToolCall", primary.HasToolCall)

		case StateRunningNotice:
			out, err := e.inv.Invoke(runCtx, e.def.Notice, stages.NoticeInput{
				ExecutionID: exec.ID,
				UserID:      exec.Input.UserID,
				Channel:     exec.Input.ChannelContext,
			})
			if err != nil {
				// Best-effort: a failed "please wait" is not worth
				// aborting the user-facing answer.
				log.Warn("interim notice failed, continuing", "err", err)
				event = EventStageFailed
				break
			}
			exec.recordResult(e.def.Notice.Name(), out)
			event = EventStageCompleted

		case StateRunningAugmented:
			out, err := e.inv.Invoke(runCtx, e.def.Augmented, stages.AugmentedInput{
				UserID:     exec.Input.UserID,
				Text:       exec.Input.Text,
				PriorReply: primary.ReplyText,
				ToolQuery:  primary.ToolQuery,
			})
			if err != nil {
				stageErr = err
				event = EventStageFailed
				break
			}
			result, ok := out.(domain.AugmentedResult)
			if !ok {
				stageErr = fmt.Errorf("workflow: augmented stage returned %T", out)
				event = EventStageFailed
				break
			}
			replyText = result.ReplyText
			exec.recordResult(e.def.Augmented.Name(), result)
			event = EventStageCompleted

		case StateRunningFinalSend:
			event = e.send(runCtx, exec, e.def.FinalSend, replyText, &stageErr)
			if event == EventStageCompleted {
				delivered = true
			}

		case StateRunningDirectSend:
			replyText = primary.ReplyText
			event = e.send(runCtx, exec, e.def.DirectSend, replyText, &stageErr)
			if event == EventStageCompleted {
				delivered = true
			}

		default:
			stageErr = fmt.Errorf("workflow: engine reached unexpected state %q", state)
			event = EventStageFailed
		}

		// A stage failure caused by the expiring run context is the
		// deadline firing, not a stage-level fault.
		if event == EventStageFailed && runCtx.Err() != nil {
			event = EventDeadline
		}
		state = next(state, event)
		exec.setState(state)
	}

	e.conclude(ctx, exec, log, state, replyText, delivered, stageErr)
}

// conclude performs the terminal side effects: the single history append on
// success, and the best-effort fallback notification when the execution
// failed or timed out before anything was delivered.
func (e *Engine) conclude(ctx context.Context, exec *Execution, log *slog.Logger, state State, replyText string, delivered bool, stageErr error) {
	switch state {
	case StateSucceeded:
		appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
		defer cancel()
		if err := e.store.Append(appendCtx, exec.Input.UserID, exec.Input.Text, replyText); err != nil {
			// The user already has the reply; only the bookkeeping
			// failed. Keep that distinguishable from delivery failures.
			log.Error("history append failed after delivery", "delivered", true, "err", err)
			exec.finish(StatusFailed, newError(ErrorStorageUnavailable, "history_append_after_delivery", err))
			return
		}
		log.Info("execution succeeded", "delivered", true)
		exec.finish(StatusSucceeded, nil)

	case StateTimedOut:
		log.Error("execution deadline exceeded", "delivered", delivered)
		if !delivered {
			e.sendFallback(ctx, exec, log)
		}
		exec.finish(StatusTimedOut, newError(ErrorExecutionTimedOut, "deadline_exceeded", context.DeadlineExceeded))

	default:
		log.Error("execution failed", "delivered", delivered, "err", stageErr)
		if !delivered {
			e.sendFallback(ctx, exec, log)
		}
		exec.finish(StatusFailed, newError(ErrorStageFailed, "stage_error", stageErr))
	}
}

func (e *Engine) send(ctx context.Context, exec *Execution, stage invoker.Stage, replyText string, stageErr *error) Event {
	out, err := e.inv.Invoke(ctx, stage, stages.SendInput{
		ExecutionID: exec.ID,
		UserID:      exec.Input.UserID,
		Channel:     exec.Input.ChannelContext,
		ReplyText:   replyText,
	})
	if err != nil {
		*stageErr = err
		return EventStageFailed
	}
	exec.recordResult(stage.Name(), out)
	return EventStageCompleted
}

// sendFallback pushes a single best-effort error notification on its own
// short context: the run context is typically already dead here.
func (e *Engine) sendFallback(ctx context.Context, exec *Execution, log *slog.Logger) {
	fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackSendTimeout)
	defer cancel()

	_, err := e.inv.Invoke(fbCtx, e.def.DirectSend, stages.SendInput{
		// Distinct id segment keeps the downstream dedup key separate
		// from a direct send that may have been attempted and failed.
		ExecutionID: exec.ID + "/fallback",
		UserID:      exec.Input.UserID,
		Channel:     exec.Input.ChannelContext,
		ReplyText:   stages.FallbackText(),
	})
	if err != nil {
		log.Warn("fallback notification failed", "err", err)
	}
}

// readHistory degrades to an empty history on storage errors: answering with
// no context beats failing the whole execution before the first stage.
func (e *Engine) readHistory(ctx context.Context, log *slog.Logger, userID string) []domain.Turn {
	history, err := e.store.Read(ctx, userID)
	if err != nil {
		log.Warn("history read failed, starting with empty context", "err", err)
		return nil
	}
	return history
}
