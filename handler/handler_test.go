package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"line-agent/internal/domain"
	"line-agent/internal/workflow"
)

type stubDispatcher struct {
	exec    *workflow.Execution
	created bool
	err     error

	gotMsg domain.InboundMessage
	calls  int
}

func (s *stubDispatcher) Dispatch(_ context.Context, msg domain.InboundMessage) (*workflow.Execution, bool, error) {
	s.calls++
	s.gotMsg = msg
	return s.exec, s.created, s.err
}

func makeEvent(body string, headers map[string]string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/messages",
		Headers:    headers,
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, res events.APIGatewayProxyResponse) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal([]byte(res.Body), &out))
	return out
}

func TestNewHandler_RequiresDispatcher(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)
}

func TestHandle_DispatchesNewExecution(t *testing.T) {
	d := &stubDispatcher{exec: &workflow.Execution{ID: "E1"}, created: true}
	h, err := NewHandler(d, nil)
	require.NoError(t, err)

	event := makeEvent(
		`{"executionId":"E1","userId":"U1","text":"hello","channelContext":{"sourceType":"user","sourceId":"U1"}}`,
		map[string]string{"X-Correlation-Id": "corr-1"},
	)
	res, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Equal(t, "corr-1", res.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", res.Headers["Content-Type"])

	body := parseBody[dispatchResponse](t, res)
	require.Equal(t, "E1", body.ExecutionID)

	require.Equal(t, 1, d.calls)
	require.Equal(t, "U1", d.gotMsg.UserID)
	require.Equal(t, "hello", d.gotMsg.Text)
	require.Equal(t, "user", d.gotMsg.ChannelContext.SourceType)
}

func TestHandle_DuplicateReturns200(t *testing.T) {
	d := &stubDispatcher{exec: &workflow.Execution{ID: "E1"}, created: false}
	h, err := NewHandler(d, nil)
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), makeEvent(`{"userId":"U1","text":"hello"}`, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHandle_MalformedBody(t *testing.T) {
	d := &stubDispatcher{}
	h, err := NewHandler(d, nil)
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), makeEvent(`{not json`, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	body := parseBody[errorResponse](t, res)
	require.Equal(t, "INVALID_INPUT", body.Error)
	require.Equal(t, "malformed_body", body.Reason)
	require.Zero(t, d.calls)
}

func TestHandle_MissingFields(t *testing.T) {
	d := &stubDispatcher{}
	h, err := NewHandler(d, nil)
	require.NoError(t, err)

	cases := []struct {
		name string
		body string
	}{
		{"no userId", `{"text":"hello"}`},
		{"no text", `{"userId":"U1"}`},
		{"blank text", `{"userId":"U1","text":"   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.Handle(context.Background(), makeEvent(tc.body, nil))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)

			body := parseBody[errorResponse](t, res)
			require.Equal(t, "missing_fields", body.Reason)
		})
	}
	require.Zero(t, d.calls)
}

func TestHandle_DispatchError(t *testing.T) {
	d := &stubDispatcher{err: errors.New("boom")}
	h, err := NewHandler(d, nil)
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), makeEvent(`{"userId":"U1","text":"hello"}`, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)

	body := parseBody[errorResponse](t, res)
	require.Equal(t, "INTERNAL_ERROR", body.Error)
}

func TestCorrelationID(t *testing.T) {
	require.Equal(t, "c1", correlationID(map[string]string{"X-Correlation-Id": "c1"}))
	require.Equal(t, "c2", correlationID(map[string]string{"x-correlation-id": "c2"}))

	generated := correlationID(nil)
	require.NotEmpty(t, generated)
	require.NotEqual(t, generated, correlationID(map[string]string{"X-Correlation-Id": "  "}))
}
