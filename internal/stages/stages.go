// Package stages provides the concrete processing stages the workflow engine
// invokes: primary completion, tool-augmented completion, interim notice, and
// the two terminal send variants.
package stages

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stage names, used in logs, stage results, and error values.
const (
	NamePrimaryCompletion       = "primary_completion"
	NameToolAugmentedCompletion = "tool_augmented_completion"
	NameInterimNotice           = "interim_notice"
	NameFinalSend               = "final_send"
	NameDirectSend              = "direct_send"
)

const (
	primaryTimeout   = 60 * time.Second
	augmentedTimeout = 90 * time.Second
	sendTimeout      = 10 * time.Second

	completionAttempts = 2
	sendAttempts       = 1
)

// User-facing canned texts, carried over from the existing bot.
const (
	interimNoticeText = "なんやややこしい質問やな～ 今こびとさんに調べてきてもろとるから待っとき！"
	fallbackErrorText = "申し訳ございません。処理中にエラーが発生しました。"
)

// FallbackText is the best-effort notification sent when an execution fails
// or times out before anything was delivered.
func FallbackText() string { return fallbackErrorText }

// httpStatusCoder is implemented by the integration clients' error types.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// retryableUpstream reports whether an upstream error is worth another
// attempt: rate limiting, server-side failures, and transport errors are;
// client errors are not.
func retryableUpstream(err error) bool {
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	// No upstream status means the request never completed (connection
	// reset, DNS failure): retryable.
	return !errors.Is(err, context.Canceled)
}

// sendRetryKey derives a stable UUID for X-Line-Retry-Key from the execution
// id and stage name, so a re-invoked send of the same logical message is
// deduplicated downstream while distinct stages keep distinct keys.
func sendRetryKey(executionID, stageName string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(executionID+"/"+stageName)).String()
}
