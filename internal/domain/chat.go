package domain

// ChatMessage is the provider-agnostic chat message shape sent to the
// completion providers.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResult is the structured output of the primary completion stage.
// HasToolCall signals that the reply needs external information and routes
// the execution through the tool-augmented path; ToolQuery is the search
// query the provider wants answered (may be empty, in which case the
// original user text is used).
type CompletionResult struct {
	ReplyText   string `json:"replyText"`
	HasToolCall bool   `json:"hasToolCall"`
	ToolQuery   string `json:"toolQuery,omitempty"`
}

// AugmentedResult is the output of the tool-augmented completion stage.
type AugmentedResult struct {
	ReplyText string `json:"replyText"`
}
