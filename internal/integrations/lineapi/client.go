// Package lineapi is a focused client for the LINE Messaging API push
// endpoint, used to deliver interim notices and final replies.
package lineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.line.me"

// pushRequest is the minimal request shape for the push message endpoint.
type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("lineapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client pushes text messages to LINE destinations.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenOnce   sync.Once
	accessToken string
	tokenErr    error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client. The channel access token is fetched from
// SSM on the first Push call and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("lineapi: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("lineapi: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAccessToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.paramPrefix+"/line-channel-token")
		if err != nil {
			c.tokenErr = fmt.Errorf("lineapi: fetch channel token from paramstore: %w", err)
			return
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			c.tokenErr = errors.New("lineapi: channel token is empty")
			return
		}
		c.accessToken = raw
	})
	return c.accessToken, c.tokenErr
}

func pushURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/v2/bot/message/push"
}

// Push delivers one text message to the given LINE destination id. retryKey,
// when non-empty, is sent as X-Line-Retry-Key so the API deduplicates
// re-sends of the same logical message under at-least-once delivery.
func (c *Client) Push(ctx context.Context, to, text, retryKey string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("lineapi: destination must not be empty")
	}
	if text == "" {
		return errors.New("lineapi: message text must not be empty")
	}

	token, err := c.resolveAccessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(pushRequest{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("lineapi: marshal request: %w", err)
	}

	url := pushURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return fmt.Errorf("lineapi: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if retryKey != "" {
		req.Header.Set("X-Line-Retry-Key", retryKey)
	}

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return fmt.Errorf("lineapi: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	return nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
