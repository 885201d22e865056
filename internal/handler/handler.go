// Package handler adapts the forwarding pipeline to the Lambda runtime.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"github.com/shineum/ses-forwarder/internal/forwarder"
	"github.com/shineum/ses-forwarder/internal/trigger"
)

// Router routes one decoded trigger. *forwarder.Forwarder implements it.
type Router interface {
	Route(ctx context.Context, t trigger.Trigger) forwarder.Outcome
}

// Response is returned to the Lambda runtime on success.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type responseBody struct {
	Message            string `json:"message"`
	ForwardedMessageID string `json:"forwardedMessageId,omitempty"`
	Destination        string `json:"destination,omitempty"`
}

// Handler handles SES receipt notifications.
type Handler struct {
	router Router
}

// New creates a Handler.
func New(router Router) *Handler {
	return &Handler{router: router}
}

// Handle decodes event, routes it and renders the outcome. A failed forward
// is returned as an error so the invocation is reported as failed.
func (h *Handler) Handle(ctx context.Context, event events.SimpleEmailEvent) (Response, error) {
	requestID := requestIDFrom(ctx)

	t, err := trigger.Decode(event)
	if err != nil {
		slog.Error("failed to decode SES event",
			"request_id", requestID,
			"error", err,
		)
		return Response{}, err
	}

	slog.Info("processing email",
		"request_id", requestID,
		"message_id", t.MessageID,
		"source", t.Source,
		"destination", t.Destination,
	)

	out := h.router.Route(ctx, t)
	switch out.Status {
	case forwarder.StatusForwarded:
		return render(responseBody{
			Message:            "Email forwarded successfully",
			ForwardedMessageID: out.ForwardedID,
		})
	case forwarder.StatusSkipped:
		return render(responseBody{
			Message:     "Email skipped",
			Destination: t.Destination,
		})
	default:
		return Response{}, fmt.Errorf("failed to forward message %s: %w", t.MessageID, out.Err)
	}
}

func render(body responseBody) (Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode response: %w", err)
	}
	return Response{StatusCode: http.StatusOK, Body: string(data)}, nil
}

// requestIDFrom returns the Lambda request id, or a fresh uuid outside the
// Lambda runtime.
func requestIDFrom(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}
