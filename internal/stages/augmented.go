package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"line-agent/internal/domain"
)

// SearchClient is the search-backed provider consumed by ToolAugmentedCompletion.
type SearchClient interface {
	Search(ctx context.Context, model, query string) (string, error)
}

// AugmentedInput is the input to the tool-augmented completion stage.
type AugmentedInput struct {
	UserID     string
	Text       string
	PriorReply string
	ToolQuery  string
}

// ToolAugmentedCompletion answers the tool query with a search-grounded
// completion. The original user text is the fallback query when the primary
// stage did not produce one.
type ToolAugmentedCompletion struct {
	client SearchClient
	model  string
}

// NewToolAugmentedCompletion creates the stage.
func NewToolAugmentedCompletion(client SearchClient, model string) (*ToolAugmentedCompletion, error) {
	if client == nil {
		return nil, errors.New("stages: search client must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("stages: augmented model must not be empty")
	}
	return &ToolAugmentedCompletion{client: client, model: model}, nil
}

func (s *ToolAugmentedCompletion) Name() string             { return NameToolAugmentedCompletion }
func (s *ToolAugmentedCompletion) Timeout() time.Duration   { return augmentedTimeout }
func (s *ToolAugmentedCompletion) MaxAttempts() int         { return completionAttempts }
func (s *ToolAugmentedCompletion) Retryable(err error) bool { return retryableUpstream(err) }

func (s *ToolAugmentedCompletion) Invoke(ctx context.Context, input any) (any, error) {
	in, ok := input.(AugmentedInput)
	if !ok {
		return nil, fmt.Errorf("stages: tool-augmented completion: unexpected input type %T", input)
	}

	query := strings.TrimSpace(in.ToolQuery)
	if query == "" {
		query = strings.TrimSpace(in.Text)
	}
	if query == "" {
		return nil, errors.New("stages: tool-augmented completion: no query available")
	}

	reply, err := s.client.Search(ctx, s.model, query)
	if err != nil {
		return nil, err
	}
	return domain.AugmentedResult{ReplyText: reply}, nil
}
