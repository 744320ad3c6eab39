// Package handler adapts verified webhook deliveries to the workflow
// dispatcher. Signature verification and LINE payload parsing happen
// upstream; this layer only decodes the normalized message, dispatches it,
// and acknowledges immediately.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"line-agent/internal/domain"
	"line-agent/internal/workflow"
)

const correlationHeader = "X-Correlation-Id"

// Dispatcher starts one deduplicated execution per inbound message.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.InboundMessage) (*workflow.Execution, bool, error)
}

// Handler is the Lambda-facing ingress adapter.
type Handler struct {
	dispatcher Dispatcher
	log        *slog.Logger
}

type dispatchResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// NewHandler creates a Handler. log may be nil.
func NewHandler(d Dispatcher, log *slog.Logger) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{dispatcher: d, log: log}, nil
}

// Handle accepts one validated inbound message and dispatches it. The
// response never waits for the execution: 202 for a newly created execution,
// 200 when the delivery was a duplicate of a known one.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	var msg domain.InboundMessage
	if err := json.Unmarshal([]byte(event.Body), &msg); err != nil {
		h.log.Warn("rejecting malformed inbound body", "correlationId", corrID, "err", err)
		return respond(http.StatusBadRequest, corrID, errorResponse{Error: "INVALID_INPUT", Reason: "malformed_body"})
	}
	if strings.TrimSpace(msg.UserID) == "" || strings.TrimSpace(msg.Text) == "" {
		return respond(http.StatusBadRequest, corrID, errorResponse{Error: "INVALID_INPUT", Reason: "missing_fields"})
	}

	exec, created, err := h.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		h.log.Error("dispatch failed", "correlationId", corrID, "err", err)
		return respond(http.StatusInternalServerError, corrID, errorResponse{Error: "INTERNAL_ERROR", Reason: "dispatch_failed"})
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	h.log.Info("dispatched inbound message",
		"correlationId", corrID, "executionId", exec.ID, "created", created)
	return respond(status, corrID, dispatchResponse{ExecutionID: exec.ID, Status: string(exec.Status())})
}

func respond(status int, corrID string, body any) (events.APIGatewayProxyResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}, nil
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
