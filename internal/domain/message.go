package domain

// ChannelContext carries the delivery routing for replies. SourceType is
// "user", "group" or "room"; for group and room sources the push target is
// SourceID, not the author's user id.
type ChannelContext struct {
	SourceType string `json:"sourceType"`
	SourceID   string `json:"sourceId"`
	ReplyToken string `json:"replyToken"`
}

// Target returns the id an outbound push message should be addressed to.
func (c ChannelContext) Target(userID string) string {
	if (c.SourceType == "group" || c.SourceType == "room") && c.SourceID != "" {
		return c.SourceID
	}
	return userID
}

// InboundMessage is one validated end-user message handed to the dispatcher.
// Signature verification and payload parsing happen upstream; ExecutionID is
// the ingress delivery id and is the deduplication key for re-deliveries.
type InboundMessage struct {
	ExecutionID    string         `json:"executionId"`
	UserID         string         `json:"userId"`
	Text           string         `json:"text"`
	ChannelContext ChannelContext `json:"channelContext"`
}
