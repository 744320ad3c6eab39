package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"line-agent/internal/domain"
)

const systemPrompt = "You are a helpful AI assistant. Respond in Japanese if the user " +
	"writes in Japanese, otherwise respond in the same language as the user. Keep your " +
	"responses concise and conversational. Return JSON with keys reply (your answer), " +
	"has_tool_call (true only when answering requires current external information you " +
	"do not have), and tool_query (the web search query to run when has_tool_call is " +
	"true, otherwise an empty string)."

// ChatClient is the completion provider consumed by PrimaryCompletion.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// PrimaryInput is the input to the primary completion stage.
type PrimaryInput struct {
	UserID  string
	Text    string
	History []domain.Turn
}

// PrimaryCompletion asks the primary provider for a reply plus the routing
// decision for the tool-augmented path.
type PrimaryCompletion struct {
	client ChatClient
	model  string
	log    *slog.Logger
}

// NewPrimaryCompletion creates the stage. log may be nil.
func NewPrimaryCompletion(client ChatClient, model string, log *slog.Logger) (*PrimaryCompletion, error) {
	if client == nil {
		return nil, errors.New("stages: chat client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("stages: primary model must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PrimaryCompletion{client: client, model: model, log: log}, nil
}

func (s *PrimaryCompletion) Name() string            { return NamePrimaryCompletion }
func (s *PrimaryCompletion) Timeout() time.Duration  { return primaryTimeout }
func (s *PrimaryCompletion) MaxAttempts() int        { return completionAttempts }
func (s *PrimaryCompletion) Retryable(err error) bool { return retryableUpstream(err) }

// Invoke calls the provider and parses the routing decision. A malformed or
// missing has_tool_call is a decision anomaly: it is logged and treated as
// false, never as a failure.
func (s *PrimaryCompletion) Invoke(ctx context.Context, input any) (any, error) {
	in, ok := input.(PrimaryInput)
	if !ok {
		return nil, fmt.Errorf("stages: primary completion: unexpected input type %T", input)
	}

	raw, err := s.client.Chat(ctx, s.model, buildMessages(in))
	if err != nil {
		return nil, err
	}
	return s.parseDecision(in.UserID, raw), nil
}

func buildMessages(in PrimaryInput) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(in.History)+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: systemPrompt})
	for _, t := range in.History {
		messages = append(messages, domain.ChatMessage{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: in.Text})
	return messages
}

// routingDecision mirrors the structured response format requested from the
// provider. Pointer fields make absent values detectable.
type routingDecision struct {
	Reply       *string         `json:"reply"`
	HasToolCall json.RawMessage `json:"has_tool_call"`
	ToolQuery   string          `json:"tool_query"`
}

func (s *PrimaryCompletion) parseDecision(userID, raw string) domain.CompletionResult {
	trimmed := strings.TrimSpace(raw)

	var decision routingDecision
	if err := json.Unmarshal([]byte(trimmed), &decision); err != nil {
		s.log.Warn("decision anomaly: unparseable routing decision, taking direct path",
			"stage", NamePrimaryCompletion, "userId", userID, "err", err)
		return domain.CompletionResult{ReplyText: trimmed, HasToolCall: false}
	}

	result := domain.CompletionResult{ToolQuery: strings.TrimSpace(decision.ToolQuery)}
	if decision.Reply != nil {
		result.ReplyText = *decision.Reply
	} else {
		s.log.Warn("decision anomaly: routing decision missing reply",
			"stage", NamePrimaryCompletion, "userId", userID)
		result.ReplyText = trimmed
	}
	if len(decision.HasToolCall) == 0 {
		s.log.Warn("decision anomaly: routing decision missing has_tool_call, taking direct path",
			"stage", NamePrimaryCompletion, "userId", userID)
		return result
	}
	var hasToolCall bool
	if err := json.Unmarshal(decision.HasToolCall, &hasToolCall); err != nil {
		s.log.Warn("decision anomaly: has_tool_call is not a boolean, taking direct path",
			"stage", NamePrimaryCompletion, "userId", userID, "err", err)
		return result
	}
	result.HasToolCall = hasToolCall
	return result
}
