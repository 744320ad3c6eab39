package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"line-agent/internal/domain"
)

// Pusher is the outbound delivery channel consumed by the notice and send stages.
type Pusher interface {
	Push(ctx context.Context, to, text, retryKey string) error
}

// NoticeInput is the input to the interim notice stage.
type NoticeInput struct {
	ExecutionID string
	UserID      string
	Channel     domain.ChannelContext
}

// SendInput is the input to the final-send and direct-send stages.
type SendInput struct {
	ExecutionID string
	UserID      string
	Channel     domain.ChannelContext
	ReplyText   string
}

// SendAck acknowledges a completed delivery.
type SendAck struct {
	Target string
}

// InterimNotice pushes the fixed "please wait" message before the
// tool-augmented path runs. Its failure never fails the execution.
type InterimNotice struct {
	pusher Pusher
}

// NewInterimNotice creates the stage.
func NewInterimNotice(pusher Pusher) (*InterimNotice, error) {
	if pusher == nil {
		return nil, errors.New("stages: pusher must not be nil")
	}
	return &InterimNotice{pusher: pusher}, nil
}

func (s *InterimNotice) Name() string             { return NameInterimNotice }
func (s *InterimNotice) Timeout() time.Duration   { return sendTimeout }
func (s *InterimNotice) MaxAttempts() int         { return sendAttempts }
func (s *InterimNotice) Retryable(err error) bool { return false }

func (s *InterimNotice) Invoke(ctx context.Context, input any) (any, error) {
	in, ok := input.(NoticeInput)
	if !ok {
		return nil, fmt.Errorf("stages: interim notice: unexpected input type %T", input)
	}
	target := in.Channel.Target(in.UserID)
	if err := s.pusher.Push(ctx, target, interimNoticeText, sendRetryKey(in.ExecutionID, s.Name())); err != nil {
		return nil, err
	}
	return SendAck{Target: target}, nil
}

// Send delivers the reply text to the user. The same capability backs both
// terminal variants; the name keeps final and direct deliveries separately
// accountable.
type Send struct {
	name   string
	pusher Pusher
}

// NewFinalSend creates the terminal send stage for the tool-augmented path.
func NewFinalSend(pusher Pusher) (*Send, error) {
	return newSend(NameFinalSend, pusher)
}

// NewDirectSend creates the terminal send stage for the direct path.
func NewDirectSend(pusher Pusher) (*Send, error) {
	return newSend(NameDirectSend, pusher)
}

func newSend(name string, pusher Pusher) (*Send, error) {
	if pusher == nil {
		return nil, errors.New("stages: pusher must not be nil")
	}
	return &Send{name: name, pusher: pusher}, nil
}

func (s *Send) Name() string             { return s.name }
func (s *Send) Timeout() time.Duration   { return sendTimeout }
func (s *Send) MaxAttempts() int         { return sendAttempts }
func (s *Send) Retryable(err error) bool { return false }

func (s *Send) Invoke(ctx context.Context, input any) (any, error) {
	in, ok := input.(SendInput)
	if !ok {
		return nil, fmt.Errorf("stages: %s: unexpected input type %T", s.name, input)
	}
	if in.ReplyText == "" {
		return nil, fmt.Errorf("stages: %s: reply text must not be empty", s.name)
	}
	target := in.Channel.Target(in.UserID)
	if err := s.pusher.Push(ctx, target, in.ReplyText, sendRetryKey(in.ExecutionID, s.name)); err != nil {
		return nil, err
	}
	return SendAck{Target: target}, nil
}
